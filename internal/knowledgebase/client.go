// Package knowledgebase queries the WorldCat knowledge base API for the
// KBART file attached to a collection.
package knowledgebase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/kbart-linkcheck/internal/linkcheck"
)

// DefaultBaseURL is the public KB REST endpoint.
const DefaultBaseURL = "https://worldcat.org/webservices/kb/rest"

const kbartSuffix = "_kbart.txt"

// ErrKBARTLinkNotFound is returned when a collection feed has no KBART enclosure.
var ErrKBARTLinkNotFound = errors.New("knowledgebase: no kbart enclosure link in collection feed")

// Config captures KB API access settings.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client resolves collection identifiers into KBART download URLs.
type Client struct {
	cfg     Config
	fetcher linkcheck.Fetcher
	logger  *zap.Logger
}

// New constructs a Client.
func New(cfg Config, fetcher linkcheck.Fetcher, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, fetcher: fetcher, logger: logger}, nil
}

// QueryURL builds the collection lookup URL, asking the API to include
// enclosure links in the feed.
func (c *Client) QueryURL(collectionID string) string {
	return fmt.Sprintf("%s/collections/%s?wskey=%s&link@rel=enclosure",
		c.cfg.BaseURL, url.PathEscape(collectionID), url.QueryEscape(c.cfg.APIKey))
}

// KBARTURL returns the authenticated download URL of the collection's KBART file.
func (c *Client) KBARTURL(ctx context.Context, collectionID string) (string, error) {
	resp, err := c.fetcher.Fetch(ctx, linkcheck.FetchRequest{
		URL:     c.QueryURL(collectionID),
		Headers: http.Header{"Accept": {"application/atom+xml"}},
	})
	if err != nil {
		return "", fmt.Errorf("query collection %s: %w", collectionID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query collection %s: unexpected status %d", collectionID, resp.StatusCode)
	}
	href, err := FindKBARTLink(bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("collection %s: %w", collectionID, err)
	}
	c.logger.Debug("kbart link found", zap.String("collection", collectionID), zap.String("href", href))
	return DownloadURL(href, c.cfg.APIKey), nil
}

// FindKBARTLink returns the href of the first enclosure link pointing at a
// *_kbart.txt file.
func FindKBARTLink(feed io.Reader) (string, error) {
	doc, err := xmlquery.Parse(feed)
	if err != nil {
		return "", fmt.Errorf("parse collection feed: %w", err)
	}
	links, err := xmlquery.QueryAll(doc, "//link[@rel='enclosure']")
	if err != nil {
		return "", fmt.Errorf("query collection feed: %w", err)
	}
	for _, link := range links {
		href := strings.TrimSpace(link.SelectAttr("href"))
		if strings.HasSuffix(href, kbartSuffix) {
			return href, nil
		}
	}
	return "", ErrKBARTLinkNotFound
}

// DownloadURL appends the API key to a KBART href.
func DownloadURL(href, apiKey string) string {
	sep := "?"
	if strings.Contains(href, "?") {
		sep = "&"
	}
	return href + sep + "wskey=" + url.QueryEscape(apiKey)
}
