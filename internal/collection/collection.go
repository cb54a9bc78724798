// Package collection models the KBART collections to check and opens their
// sources, either downloaded from the knowledge base or read from disk.
package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbart-linkcheck/internal/linkcheck"
)

// Kind tells where a collection's KBART file lives.
type Kind string

// Collection source kinds.
const (
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
)

// Collection pairs an identifier with a KBART source location.
type Collection struct {
	ID       string
	Location string
	Kind     Kind
}

// Locator resolves a knowledge base collection ID into a KBART download URL.
type Locator interface {
	KBARTURL(ctx context.Context, collectionID string) (string, error)
}

// Local describes a KBART file on disk. The collection ID is the file name
// without its extension, so report names stay flat.
func Local(path string) Collection {
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	return Collection{ID: id, Location: path, Kind: KindLocal}
}

// Build resolves every remote ID through locator and appends the local paths.
// Remote collections come first, in configuration order.
func Build(ctx context.Context, locator Locator, remoteIDs, localPaths []string) ([]Collection, error) {
	out := make([]Collection, 0, len(remoteIDs)+len(localPaths))
	if len(remoteIDs) > 0 && locator == nil {
		return nil, errors.New("remote collections configured without a knowledge base locator")
	}
	for _, id := range remoteIDs {
		location, err := locator.KBARTURL(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("locate collection %s: %w", id, err)
		}
		out = append(out, Collection{ID: id, Location: location, Kind: KindRemote})
	}
	for _, path := range localPaths {
		out = append(out, Local(path))
	}
	return out, nil
}

// Opener returns a readable KBART source for a collection.
type Opener struct {
	fetcher linkcheck.Fetcher
	logger  *zap.Logger
}

// NewOpener constructs an Opener. fetcher may be nil when only local
// collections are used.
func NewOpener(fetcher linkcheck.Fetcher, logger *zap.Logger) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{fetcher: fetcher, logger: logger}
}

// Open returns the KBART bytes of c. The caller closes the reader.
func (o *Opener) Open(ctx context.Context, c Collection) (io.ReadCloser, error) {
	switch c.Kind {
	case KindLocal:
		// #nosec G304 -- local collection paths come from operator configuration.
		f, err := os.Open(c.Location)
		if err != nil {
			return nil, fmt.Errorf("open local collection %s: %w", c.ID, err)
		}
		return f, nil
	case KindRemote:
		return o.download(ctx, c)
	default:
		return nil, fmt.Errorf("collection %s: unknown kind %q", c.ID, c.Kind)
	}
}

func (o *Opener) download(ctx context.Context, c Collection) (io.ReadCloser, error) {
	if o.fetcher == nil {
		return nil, fmt.Errorf("collection %s: no fetcher configured for downloads", c.ID)
	}
	resp, err := o.fetcher.Fetch(ctx, linkcheck.FetchRequest{URL: c.Location})
	if err != nil {
		return nil, fmt.Errorf("download collection %s: %w", c.ID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download collection %s: unexpected status %d", c.ID, resp.StatusCode)
	}
	o.logger.Info("kbart downloaded",
		zap.String("collection", c.ID),
		zap.Int("bytes", len(resp.Body)),
	)
	return io.NopCloser(bytes.NewReader(resp.Body)), nil
}
