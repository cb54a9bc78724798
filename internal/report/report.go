// Package report turns a collection scan into CSV files and notification
// emails.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/JakeFAU/kbart-linkcheck/internal/kbart"
	"github.com/JakeFAU/kbart-linkcheck/internal/mail"
)

// Kind names one of the two problem reports.
type Kind string

// Report kinds, in the order they are sent.
const (
	KindRedirects Kind = "redirects"
	KindErrors    Kind = "errors"
	// KindClean is the notice sent when a collection has no problems. It
	// never has a file.
	KindClean Kind = "clean"
)

// Subject is shared by every report email.
const Subject = "Report| Problematic links in Open Access Collection"

// CSVContentType is attached to stored and mailed report files.
const CSVContentType = "text/csv"

// Sender delivers a composed email.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// BlobStore persists report files.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// FileName returns the report file name for a collection.
func FileName(kind Kind, collectionID string) string {
	return fmt.Sprintf("openAccess_%s_results_%s.csv", kind, collectionID)
}

// Body returns the email text for a report kind.
func Body(kind Kind, collectionID string) string {
	switch kind {
	case KindRedirects:
		return fmt.Sprintf("Report of redirecting links in collection %s. The links have been corrected in the attached file.", collectionID)
	case KindErrors:
		return fmt.Sprintf("Report of broken links in collection %s.", collectionID)
	default:
		return fmt.Sprintf("No broken or redirecting links were found in collection: %s.", collectionID)
	}
}

// EncodeCSV writes records comma-separated, fields in source order.
func EncodeCSV(records []kbart.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, rec := range records {
		if err := w.Write(rec.Fields); err != nil {
			return nil, fmt.Errorf("encode line %d: %w", rec.Line, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
