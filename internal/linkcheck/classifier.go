package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kbart-linkcheck/internal/metrics"
)

// DefaultTimeout bounds a single fetch when no timeout is configured.
const DefaultTimeout = 30 * time.Second

var (
	errEmptyURL   = errors.New("empty url")
	errNoResponse = errors.New("fetcher returned no response")
)

// Classifier maps a URL fetch onto a Status.
type Classifier struct {
	fetcher Fetcher
	limiter Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewClassifier constructs a Classifier. limiter may be nil.
func NewClassifier(fetcher Fetcher, limiter Limiter, timeout time.Duration, logger *zap.Logger) *Classifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		fetcher: fetcher,
		limiter: limiter,
		timeout: timeout,
		logger:  logger,
	}
}

// Classify fetches rawURL once and classifies the outcome. Fetch failures
// are folded into StatusError; Classify never fails.
func (c *Classifier) Classify(ctx context.Context, rawURL string) Check {
	check := Check{URL: rawURL}
	resp, err := fetchOnce(ctx, c.fetcher, c.limiter, c.timeout, rawURL)
	check.Duration = resp.Duration
	defer func() {
		metrics.ObserveLink(rawURL, string(check.Status), check.Duration)
	}()
	if err != nil {
		check.Status = StatusError
		check.Err = err
		c.logger.Debug("fetch failed", zap.String("url", rawURL), zap.Error(err))
		return check
	}

	check.StatusCode = resp.StatusCode
	check.FinalURL = resp.FinalURL
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		check.Status = StatusError
	case SameResource(rawURL, resp.FinalURL):
		check.Status = StatusOK
	default:
		check.Status = StatusRedirects
	}
	return check
}

func fetchOnce(
	ctx context.Context,
	fetcher Fetcher,
	limiter Limiter,
	timeout time.Duration,
	rawURL string,
) (FetchResponse, error) {
	if rawURL == "" {
		return FetchResponse{URL: rawURL}, errEmptyURL
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return FetchResponse{URL: rawURL}, fmt.Errorf("parse url: %w", err)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx, rawURL); err != nil {
			return FetchResponse{URL: rawURL}, fmt.Errorf("limiter: %w", err)
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.IncInFlight()
	defer metrics.DecInFlight()

	start := time.Now()
	resp, err := fetcher.Fetch(fetchCtx, FetchRequest{URL: rawURL})
	if resp.Duration == 0 {
		resp.Duration = time.Since(start)
	}
	if err != nil {
		return resp, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode == 0 || resp.FinalURL == "" {
		return resp, errNoResponse
	}
	return resp, nil
}
