package linkcheck

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbart-linkcheck/internal/kbart"
)

// Resolver re-fetches a redirecting URL and writes the final URL back into
// the KBART record.
type Resolver struct {
	fetcher Fetcher
	limiter Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver constructs a Resolver. limiter may be nil.
func NewResolver(fetcher Fetcher, limiter Limiter, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher: fetcher,
		limiter: limiter,
		timeout: timeout,
		logger:  logger,
	}
}

// Resolve returns a copy of record whose title_url is the final URL reached
// from currentURL.
func (r *Resolver) Resolve(ctx context.Context, record kbart.Record, currentURL string) (kbart.Record, error) {
	resp, err := fetchOnce(ctx, r.fetcher, r.limiter, r.timeout, currentURL)
	if err != nil {
		return kbart.Record{}, fmt.Errorf("resolve %s: %w", currentURL, err)
	}
	finalURL := resp.FinalURL
	corrected, err := record.WithURL(finalURL)
	if err != nil {
		return kbart.Record{}, fmt.Errorf("rewrite record: %w", err)
	}
	r.logger.Debug("redirect corrected",
		zap.Int("line", record.Line),
		zap.String("url", currentURL),
		zap.String("final_url", finalURL),
	)
	return corrected, nil
}
