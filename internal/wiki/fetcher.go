// Package wiki fetches plugin pages from the Confluence REST API.
package wiki

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"marketplace/internal/catalog"
	"marketplace/internal/config"
)

const (
	// UserAgent is sent with every request to the wiki.
	UserAgent = "lab-marketplace/1.0"

	// MaxPageSize bounds the size of a single fetched page (10MB).
	MaxPageSize = 10 * 1024 * 1024
)

// Fetcher reads raw page markup from {rest_base}/{pageID}.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher creates a fetcher. Transport errors and 5xx answers are retried
// cfg.Retries times.
func NewFetcher(cfg config.WikiConfig) *Fetcher {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.RestBase, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("User-Agent", UserAgent).
		SetHeader("Accept", "application/xml").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})

	return &Fetcher{client: client}
}

// FetchPluginText returns the raw page. Any failure wraps catalog.ErrUpstreamUnavailable.
func (f *Fetcher) FetchPluginText(ctx context.Context, pageID string) ([]byte, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		Get("/" + url.PathEscape(pageID))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch page %s: %v", catalog.ErrUpstreamUnavailable, pageID, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: page %s: HTTP %d", catalog.ErrUpstreamUnavailable, pageID, resp.StatusCode())
	}

	body := resp.Body()
	if len(body) > MaxPageSize {
		return nil, fmt.Errorf("%w: page %s is %d bytes, limit is %d", catalog.ErrUpstreamUnavailable, pageID, len(body), MaxPageSize)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: page %s is empty", catalog.ErrUpstreamUnavailable, pageID)
	}

	return body, nil
}
