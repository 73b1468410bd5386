// Package checker verifies that every plugin's update site answers.
package checker

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"marketplace/internal/catalog"
)

const defaultConcurrency = 8

type Checker struct {
	client      *resty.Client
	timeout     time.Duration
	concurrency int
}

// New creates a checker whose probes time out after timeout.
func New(timeout time.Duration) *Checker {
	return &Checker{
		client:      resty.New().SetTimeout(timeout).SetHeader("User-Agent", "lab-marketplace-check/1.0"),
		timeout:     timeout,
		concurrency: defaultConcurrency,
	}
}

// Timeout is the per-probe timeout.
func (c *Checker) Timeout() time.Duration {
	return c.timeout
}

// Check probes each distinct update URL once and returns the sorted list of
// URLs that did not answer 200. A probe failure is a broken URL, not an error;
// only cancellation of ctx is reported as an error.
func (c *Checker) Check(ctx context.Context, plugins []catalog.Plugin) ([]string, error) {
	urls := make(map[string]bool)
	for _, p := range plugins {
		if p.UpdateURL != "" {
			urls[p.UpdateURL] = true
		}
	}

	var (
		mu     sync.Mutex
		broken []string
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for u := range urls {
		g.Go(func() error {
			if c.probe(gCtx, u) {
				return nil
			}
			mu.Lock()
			broken = append(broken, u)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Strings(broken)
	return broken, nil
}

func (c *Checker) probe(ctx context.Context, url string) bool {
	resp, err := c.client.R().SetContext(ctx).Get(url)
	if err != nil {
		slog.Warn("Update site unreachable", "url", url, "error", err)
		return false
	}
	if resp.StatusCode() != http.StatusOK {
		slog.Warn("Update site answered with unexpected status", "url", url, "status", resp.StatusCode())
		return false
	}
	return true
}
