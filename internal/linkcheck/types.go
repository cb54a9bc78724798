package linkcheck

import (
	"net/http"
	"time"

	"github.com/JakeFAU/kbart-linkcheck/internal/kbart"
)

// Status is the classification of a single URL fetch.
type Status string

// Classification values.
const (
	StatusOK        Status = "ok"
	StatusRedirects Status = "redirects"
	StatusError     Status = "error"
)

// Outcome is where a scanned record ends up.
type Outcome string

// Partition outcomes. OutcomeIgnored covers DOI resolver links that redirect:
// they are expected to redirect, so they are neither corrected nor reported.
const (
	OutcomeDropped  Outcome = "dropped"
	OutcomeError    Outcome = "error"
	OutcomeRedirect Outcome = "redirect"
	OutcomeIgnored  Outcome = "ignored"
)

// Check is the full result of classifying one URL.
type Check struct {
	URL        string
	FinalURL   string
	StatusCode int
	Status     Status
	Duration   time.Duration
	// Err holds the fetch failure behind a StatusError, if any.
	Err error
}

// Result holds the partitioned records of one collection scan. Both lists
// preserve source order.
type Result struct {
	Errors    []kbart.Record
	Redirects []kbart.Record
	// Checked counts data rows whose URL was classified.
	Checked int
	// Ignored counts DOI resolver redirects that were left alone.
	Ignored int
	// Lines counts every line consumed from the source, header included.
	Lines int
}

// Clean reports whether the scan found nothing to report.
func (r Result) Clean() bool {
	return len(r.Errors) == 0 && len(r.Redirects) == 0
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	// URL is the requested URL.
	URL string
	// FinalURL is the URL after all redirects were followed.
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
