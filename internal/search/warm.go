package search

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"marketplace/internal/cache"
	"marketplace/internal/catalog"
)

// Fetcher retrieves the raw page of a plugin from the remote content system.
type Fetcher interface {
	FetchPluginText(ctx context.Context, pageID string) ([]byte, error)
}

// Warm fetches the page of every plugin that has a page id and stores it,
// running at most concurrency fetches at a time. The first failure cancels the
// remaining fetches and is returned.
func Warm(ctx context.Context, plugins []catalog.Plugin, fetcher Fetcher, store cache.Store, concurrency int) error {
	g, gCtx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	seen := make(map[string]bool, len(plugins))
	for _, p := range plugins {
		if p.PageID == "" || seen[p.PageID] {
			continue
		}
		seen[p.PageID] = true

		pageID := p.PageID
		g.Go(func() error {
			raw, err := fetcher.FetchPluginText(gCtx, pageID)
			if err != nil {
				return err
			}
			if err := store.Set(gCtx, pageID, raw); err != nil {
				return fmt.Errorf("failed to cache page %s: %w", pageID, err)
			}
			slog.Debug("Cached plugin page", "page", pageID, "bytes", len(raw))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Page cache warmed", "pages", len(seen))
	return nil
}
