// Package app builds the link checker's long-lived services from
// configuration and runs a check over every configured collection.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbart-linkcheck/internal/clock/system"
	"github.com/JakeFAU/kbart-linkcheck/internal/collection"
	"github.com/JakeFAU/kbart-linkcheck/internal/config"
	collyfetcher "github.com/JakeFAU/kbart-linkcheck/internal/fetcher/colly"
	"github.com/JakeFAU/kbart-linkcheck/internal/id/uuid"
	"github.com/JakeFAU/kbart-linkcheck/internal/kbart"
	"github.com/JakeFAU/kbart-linkcheck/internal/knowledgebase"
	"github.com/JakeFAU/kbart-linkcheck/internal/linkcheck"
	"github.com/JakeFAU/kbart-linkcheck/internal/mail"
	"github.com/JakeFAU/kbart-linkcheck/internal/metrics"
	"github.com/JakeFAU/kbart-linkcheck/internal/policy/ratelimit"
	pspublisher "github.com/JakeFAU/kbart-linkcheck/internal/publisher/pubsub"
	"github.com/JakeFAU/kbart-linkcheck/internal/report"
	"github.com/JakeFAU/kbart-linkcheck/internal/server"
	gcsstorage "github.com/JakeFAU/kbart-linkcheck/internal/storage/gcs"
	localstorage "github.com/JakeFAU/kbart-linkcheck/internal/storage/local"
)

// Opener returns the KBART bytes of a collection.
type Opener interface {
	Open(ctx context.Context, c collection.Collection) (io.ReadCloser, error)
}

// Scanner walks one collection's records.
type Scanner interface {
	Scan(ctx context.Context, collectionID string, records kbart.Stream) (linkcheck.Result, error)
}

// Emitter reports one collection's scan result.
type Emitter interface {
	Emit(ctx context.Context, collectionID, runID string, result linkcheck.Result) error
}

// Publisher announces run summaries.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) (string, error)
	Close() error
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the services a run needs. Locator and Publisher may be nil.
type Deps struct {
	Locator   collection.Locator
	Opener    Opener
	Scanner   Scanner
	Emitter   Emitter
	Publisher Publisher
	Clock     Clock
	IDs       IDGenerator
}

// Options carry the run settings that are not services.
type Options struct {
	RemoteIDs   []string
	LocalPaths  []string
	MetricsAddr string
	// MetricsTextfile receives a Prometheus text dump when the run ends.
	MetricsTextfile string
}

// Summary is published after each collection.
type Summary struct {
	RunID      string    `json:"run_id"`
	Collection string    `json:"collection"`
	Checked    int       `json:"checked"`
	Errors     int       `json:"errors"`
	Redirects  int       `json:"redirects"`
	Ignored    int       `json:"ignored"`
	FinishedAt time.Time `json:"finished_at"`
}

// Status is the snapshot served on /status while a run is in progress.
type Status struct {
	RunID     string    `json:"run_id,omitempty"`
	State     string    `json:"state"`
	Current   string    `json:"current,omitempty"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Summaries []Summary `json:"summaries"`
}

// App holds the services of one process.
type App struct {
	deps    Deps
	opts    Options
	logger  *zap.Logger
	closers []func() error

	mu     sync.Mutex
	status Status
}

// New assembles an App from prebuilt services.
func New(deps Deps, opts Options, logger *zap.Logger) (*App, error) {
	if deps.Opener == nil || deps.Scanner == nil || deps.Emitter == nil {
		return nil, errors.New("app requires an opener, a scanner and an emitter")
	}
	if len(opts.RemoteIDs) > 0 && deps.Locator == nil {
		return nil, errors.New("remote collections require a knowledge base locator")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		deps:   deps,
		opts:   opts,
		logger: logger,
		status: Status{State: "idle"},
	}, nil
}

// Build creates every service cfg asks for. cfg must pass ValidateRun.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.ValidateRun(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	deps := Deps{
		Scanner: NewScanner(cfg, logger),
		Clock:   system.New(),
		IDs:     uuid.New(),
	}
	var closers []func() error

	downloads := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.Timeout(),
	})
	deps.Opener = collection.NewOpener(downloads, logger.Named("collection"))

	if len(cfg.Collections) > 0 {
		kb, err := knowledgebase.New(knowledgebase.Config{BaseURL: cfg.KB.BaseURL, APIKey: cfg.APIKey}, downloads, logger)
		if err != nil {
			return nil, fmt.Errorf("knowledge base client: %w", err)
		}
		deps.Locator = kb
	}

	store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Report.OutputDir})
	if err != nil {
		return nil, fmt.Errorf("report directory: %w", err)
	}
	logger.Info("report directory ready", zap.String("dir", store.BaseDir()))

	var archive report.BlobStore
	if cfg.Report.Archive.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		closers = append(closers, client.Close)
		gcs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Report.Archive.GCSBucket})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("report archive: %w", err), runClosers(closers))
		}
		archive = gcs
	}

	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Address:  cfg.Email.Server.Address,
		Port:     cfg.Email.Server.Port,
		Username: cfg.Email.Server.Username,
		Password: cfg.Email.Server.Password,
	}, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mail sender: %w", err), runClosers(closers))
	}
	deps.Emitter, err = report.NewEmitter(report.Config{
		From:          cfg.Email.From,
		To:            cfg.Email.To,
		ArchivePrefix: cfg.Report.Archive.Prefix,
	}, sender, store, archive, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("report emitter: %w", err), runClosers(closers))
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := pspublisher.New(ctx, pspublisher.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.TopicName,
		}, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("summary publisher: %w", err), runClosers(closers))
		}
		deps.Publisher = pub
	}

	a, err := New(deps, Options{
		RemoteIDs:       cfg.Collections,
		LocalPaths:      cfg.LocalCollections,
		MetricsAddr:     cfg.Metrics.ListenAddr,
		MetricsTextfile: cfg.Metrics.Textfile,
	}, logger)
	if err != nil {
		return nil, errors.Join(err, runClosers(closers))
	}
	a.closers = closers
	return a, nil
}

// NewClassifier builds the URL classifier cfg describes, with its per-host
// limiter.
func NewClassifier(cfg config.Config, logger *zap.Logger) *linkcheck.Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher, limiter := linkServices(cfg)
	return linkcheck.NewClassifier(fetcher, limiter, cfg.Timeout(), logger.Named("classifier"))
}

// NewScanner builds the collection scanner cfg describes.
func NewScanner(cfg config.Config, logger *zap.Logger) *linkcheck.Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	fetcher, limiter := linkServices(cfg)
	classifier := linkcheck.NewClassifier(fetcher, limiter, cfg.Timeout(), logger.Named("classifier"))
	resolver := linkcheck.NewResolver(fetcher, limiter, cfg.Timeout(), logger.Named("resolver"))
	return linkcheck.NewScanner(classifier, resolver, linkcheck.ScannerConfig{
		Concurrency: cfg.Scan.Concurrency,
		MaxRecords:  cfg.Scan.MaxRecords,
	}, logger.Named("scanner"))
}

func linkServices(cfg config.Config) (*collyfetcher.Fetcher, *ratelimit.Limiter) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.Timeout(),
		MaxBodySize:   collyfetcher.DefaultLinkBodySize,
	})
	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS:   cfg.HTTP.PerHostRPS,
		PerHostBurst: cfg.HTTP.PerHostBurst,
	})
	return fetcher, limiter
}

// Run checks every collection in order: remote ones first, then local
// files. Any structural failure aborts the remaining collections.
func (a *App) Run(ctx context.Context) ([]Summary, error) {
	runID, err := a.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	logger := a.logger.With(zap.String("run_id", runID))

	if a.opts.MetricsAddr != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		srvDone := make(chan struct{})
		defer func() {
			stopServer()
			<-srvDone
		}()
		srv := server.New(func() any { return a.Status() }, logger)
		go func() {
			defer close(srvDone)
			if err := srv.Run(srvCtx, a.opts.MetricsAddr); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	collections, err := collection.Build(ctx, a.deps.Locator, a.opts.RemoteIDs, a.opts.LocalPaths)
	if err != nil {
		return nil, err
	}
	a.setStatus(func(s *Status) {
		s.RunID = runID
		s.State = "running"
		s.Total = len(collections)
	})
	logger.Info("run started", zap.Int("collections", len(collections)))

	summaries := make([]Summary, 0, len(collections))
	for _, c := range collections {
		a.setStatus(func(s *Status) { s.Current = c.ID })
		summary, err := a.runCollection(ctx, runID, c, logger)
		if err != nil {
			a.setStatus(func(s *Status) { s.State = "failed" })
			return summaries, fmt.Errorf("collection %s: %w", c.ID, err)
		}
		summaries = append(summaries, summary)
		a.setStatus(func(s *Status) {
			s.Completed++
			s.Summaries = append(s.Summaries, summary)
		})
	}
	a.setStatus(func(s *Status) {
		s.State = "finished"
		s.Current = ""
	})
	logger.Info("run finished", zap.Int("collections", len(summaries)))

	if a.opts.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(a.opts.MetricsTextfile); err != nil {
			return summaries, fmt.Errorf("write metrics textfile: %w", err)
		}
	}
	return summaries, nil
}

func (a *App) runCollection(ctx context.Context, runID string, c collection.Collection, logger *zap.Logger) (Summary, error) {
	start := time.Now()
	outcome := "failed"
	defer func() { metrics.ObserveCollection(outcome, time.Since(start)) }()

	src, err := a.deps.Opener.Open(ctx, c)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("close kbart source", zap.String("collection", c.ID), zap.Error(cerr))
		}
	}()

	result, err := a.deps.Scanner.Scan(ctx, c.ID, kbart.NewReader(src))
	if err != nil {
		return Summary{}, err
	}
	if err := a.deps.Emitter.Emit(ctx, c.ID, runID, result); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		RunID:      runID,
		Collection: c.ID,
		Checked:    result.Checked,
		Errors:     len(result.Errors),
		Redirects:  len(result.Redirects),
		Ignored:    result.Ignored,
		FinishedAt: a.deps.Clock.Now(),
	}
	if a.deps.Publisher != nil {
		if _, err := a.deps.Publisher.Publish(ctx, c.ID, summary); err != nil {
			return Summary{}, fmt.Errorf("publish summary: %w", err)
		}
	}
	outcome = "clean"
	if !result.Clean() {
		outcome = "reported"
	}
	logger.Info("collection done",
		zap.String("collection", c.ID),
		zap.Int("checked", summary.Checked),
		zap.Int("errors", summary.Errors),
		zap.Int("redirects", summary.Redirects),
		zap.Int("ignored", summary.Ignored),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

// Status returns a copy of the current run state.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.status
	out.Summaries = append([]Summary(nil), a.status.Summaries...)
	return out
}

func (a *App) setStatus(update func(*Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	update(&a.status)
}

// Close releases the publisher and cloud clients.
func (a *App) Close() error {
	var errs []error
	if a.deps.Publisher != nil {
		if err := a.deps.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	errs = append(errs, runClosers(a.closers))
	return errors.Join(errs...)
}

func runClosers(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
