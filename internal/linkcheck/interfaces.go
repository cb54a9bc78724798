package linkcheck

import "context"

// Fetcher performs a single GET, following redirects.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Limiter throttles fetches, typically per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}
