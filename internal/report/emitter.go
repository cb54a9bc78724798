package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbart-linkcheck/internal/hash/sha256"
	"github.com/JakeFAU/kbart-linkcheck/internal/kbart"
	"github.com/JakeFAU/kbart-linkcheck/internal/linkcheck"
	"github.com/JakeFAU/kbart-linkcheck/internal/mail"
	"github.com/JakeFAU/kbart-linkcheck/internal/metrics"
)

// Config holds the addressing and archive settings of an Emitter.
type Config struct {
	From string
	To   string
	// ArchivePrefix is prepended to archived object paths.
	ArchivePrefix string
}

// Emitter writes and mails the reports for one scanned collection.
type Emitter struct {
	cfg     Config
	sender  Sender
	store   BlobStore
	archive BlobStore
	hasher  *sha256.Hasher
	logger  *zap.Logger
}

// NewEmitter wires an Emitter. archive may be nil.
func NewEmitter(cfg Config, sender Sender, store, archive BlobStore, logger *zap.Logger) (*Emitter, error) {
	if sender == nil {
		return nil, errors.New("report sender is required")
	}
	if store == nil {
		return nil, errors.New("report store is required")
	}
	if strings.TrimSpace(cfg.From) == "" || strings.TrimSpace(cfg.To) == "" {
		return nil, errors.New("report from and to addresses are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		cfg:     cfg,
		sender:  sender,
		store:   store,
		archive: archive,
		hasher:  sha256.New(),
		logger:  logger.Named("report"),
	}, nil
}

// Emit sends the redirect report, then the error report. A clean result gets
// a single notice with no attachment. The first failure aborts.
func (e *Emitter) Emit(ctx context.Context, collectionID, runID string, result linkcheck.Result) error {
	if result.Clean() {
		if err := e.send(ctx, KindClean, collectionID, nil); err != nil {
			return err
		}
		metrics.ObserveReport(string(KindClean))
		return nil
	}

	batches := []struct {
		kind    Kind
		records []kbart.Record
	}{
		{KindRedirects, result.Redirects},
		{KindErrors, result.Errors},
	}
	for _, b := range batches {
		if len(b.records) == 0 {
			continue
		}
		if err := e.emitFile(ctx, b.kind, collectionID, runID, b.records); err != nil {
			return err
		}
		metrics.ObserveReport(string(b.kind))
	}
	return nil
}

func (e *Emitter) emitFile(ctx context.Context, kind Kind, collectionID, runID string, records []kbart.Record) error {
	data, err := EncodeCSV(records)
	if err != nil {
		return fmt.Errorf("%s report for %s: %w", kind, collectionID, err)
	}
	name := FileName(kind, collectionID)

	uri, err := e.store.PutObject(ctx, name, CSVContentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	e.logger.Info("report written",
		zap.String("collection", collectionID),
		zap.String("kind", string(kind)),
		zap.Int("records", len(records)),
		zap.String("uri", uri),
		zap.String("sha256", e.hasher.Hash(data)),
	)

	if e.archive != nil {
		archivePath := path.Join(e.cfg.ArchivePrefix, runID, name)
		archived, err := e.archive.PutObject(ctx, archivePath, CSVContentType, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("archive %s: %w", name, err)
		}
		e.logger.Debug("report archived", zap.String("uri", archived))
	}

	return e.send(ctx, kind, collectionID, []mail.Attachment{{
		Filename:    name,
		ContentType: CSVContentType,
		Data:        data,
	}})
}

func (e *Emitter) send(ctx context.Context, kind Kind, collectionID string, attachments []mail.Attachment) error {
	msg := mail.Message{
		From:        e.cfg.From,
		To:          e.cfg.To,
		Subject:     Subject,
		Body:        Body(kind, collectionID),
		Attachments: attachments,
	}
	if err := e.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s report for %s: %w", kind, collectionID, err)
	}
	return nil
}
