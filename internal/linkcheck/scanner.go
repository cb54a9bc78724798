package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/kbart-linkcheck/internal/kbart"
)

// ScannerConfig controls Scanner behavior.
type ScannerConfig struct {
	// Concurrency bounds in-flight checks. 1 (the default) checks records
	// strictly one after another.
	Concurrency int
	// MaxRecords stops the scan after that many source lines, header
	// included. 0 means no limit.
	MaxRecords int
}

// Scanner walks a KBART stream and partitions its records.
type Scanner struct {
	classifier *Classifier
	resolver   *Resolver
	cfg        ScannerConfig
	logger     *zap.Logger
}

// NewScanner constructs a Scanner.
func NewScanner(classifier *Classifier, resolver *Resolver, cfg ScannerConfig, logger *zap.Logger) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRecords < 0 {
		cfg.MaxRecords = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		classifier: classifier,
		resolver:   resolver,
		cfg:        cfg,
		logger:     logger,
	}
}

// slot receives the outcome of one data record; slots are kept in source
// order so concurrent checks still produce ordered lists.
type slot struct {
	outcome Outcome
	record  kbart.Record
}

// Scan consumes records until the stream is exhausted (or MaxRecords is
// reached) and returns the partitioned result. A record without a title_url
// column, a read error or context cancellation fails the whole scan.
func (s *Scanner) Scan(ctx context.Context, collectionID string, records kbart.Stream) (Result, error) {
	logger := s.logger.With(zap.String("collection", collectionID))

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(scanCtx)
	g.SetLimit(s.cfg.Concurrency)

	var (
		slots []*slot
		lines int
	)
	fail := func(err error) (Result, error) {
		cancel()
		_ = g.Wait()
		return Result{}, err
	}

	for s.cfg.MaxRecords == 0 || lines < s.cfg.MaxRecords {
		if err := gctx.Err(); err != nil {
			break
		}
		record, err := records.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("read kbart: %w", err))
		}
		lines++
		if record.IsHeader() {
			continue
		}
		raw, err := record.URL()
		if err != nil {
			return fail(err)
		}

		sl := &slot{}
		slots = append(slots, sl)
		currentURL := CleanURL(raw)
		g.Go(func() error {
			sl.outcome, sl.record = s.checkRecord(gctx, record, currentURL)
			logger.Debug("checked line",
				zap.Int("line", record.Line),
				zap.String("url", currentURL),
				zap.String("outcome", string(sl.outcome)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("scan workers: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("scan canceled: %w", err)
	}

	result := Result{Lines: lines, Checked: len(slots)}
	for _, sl := range slots {
		switch sl.outcome {
		case OutcomeError:
			result.Errors = append(result.Errors, sl.record)
		case OutcomeRedirect:
			result.Redirects = append(result.Redirects, sl.record)
		case OutcomeIgnored:
			result.Ignored++
		}
	}
	logger.Info("collection scanned",
		zap.Int("lines", result.Lines),
		zap.Int("checked", result.Checked),
		zap.Int("errors", len(result.Errors)),
		zap.Int("redirects", len(result.Redirects)),
		zap.Int("ignored", result.Ignored),
	)
	return result, nil
}

// checkRecord classifies one URL and decides where its record goes.
func (s *Scanner) checkRecord(ctx context.Context, record kbart.Record, currentURL string) (Outcome, kbart.Record) {
	check := s.classifier.Classify(ctx, currentURL)
	switch check.Status {
	case StatusError:
		return OutcomeError, record
	case StatusRedirects:
		if IsDOIResolver(currentURL) {
			s.logger.Debug("doi resolver redirect ignored", zap.String("url", currentURL))
			return OutcomeIgnored, record
		}
		corrected, err := s.resolver.Resolve(ctx, record, currentURL)
		if err != nil {
			// A link that redirected once and then failed is reported as broken.
			s.logger.Warn("redirect resolution failed",
				zap.Int("line", record.Line),
				zap.String("url", currentURL),
				zap.Error(err),
			)
			return OutcomeError, record
		}
		return OutcomeRedirect, corrected
	default:
		return OutcomeDropped, record
	}
}
