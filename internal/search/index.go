// Package search answers the marketplace's full-text queries with a plain
// case-insensitive substring match over text flattened from cached wiki pages.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"marketplace/internal/cache"
	"marketplace/internal/catalog"
)

type entry struct {
	pluginID string
	category string
	text     string
}

// Index holds the lower-cased text of each plugin's cached page, in catalog order.
type Index struct {
	entries []entry
}

// Build reads the cached page of every plugin. Plugins without a page id or
// without a cached page are left out of the index.
func Build(ctx context.Context, plugins []catalog.Plugin, store cache.Store) (*Index, error) {
	idx := &Index{entries: make([]entry, 0, len(plugins))}
	for _, p := range plugins {
		if p.PageID == "" {
			continue
		}
		raw, err := store.Get(ctx, p.PageID)
		if errors.Is(err, cache.ErrMiss) {
			slog.Debug("No cached page for plugin", "plugin", p.ID, "page", p.PageID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build search index: %w", err)
		}
		idx.Add(p, Extract(raw))
	}
	return idx, nil
}

// Add appends the text of one plugin.
func (idx *Index) Add(p catalog.Plugin, text string) {
	idx.entries = append(idx.entries, entry{
		pluginID: p.ID,
		category: p.Category,
		text:     strings.ToLower(text),
	})
}

// Len returns the number of indexed plugins.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Find returns the ids of plugins whose text contains query, ignoring case.
// A blank query matches nothing.
func (idx *Index) Find(query string, filter Filter) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var hits []string
	for _, e := range idx.entries {
		if !filter.allows(e.category) {
			continue
		}
		if strings.Contains(e.text, q) {
			hits = append(hits, e.pluginID)
		}
	}
	return hits
}

// Filter narrows search hits to categories. The zero Filter allows everything.
type Filter struct {
	categories []string
}

// ParseFilter reads the client's filters parameter, e.g. "tid:tg01 tid:5".
// Tokens naming the market are ignored; tokens naming a category, by id or by
// display name, restrict hits to that category. Unknown tokens are ignored.
func ParseFilter(raw string, m catalog.Marketplace) Filter {
	resolver := m.Resolver()
	var f Filter
	for _, token := range strings.Fields(raw) {
		value := strings.TrimPrefix(token, "tid:")
		if value == "" || value == m.ID {
			continue
		}
		id, err := resolver.Normalize(value)
		if err != nil {
			slog.Debug("Ignoring unknown search filter", "filter", token)
			continue
		}
		f.categories = append(f.categories, id)
	}
	return f
}

func (f Filter) allows(category string) bool {
	if len(f.categories) == 0 {
		return true
	}
	for _, c := range f.categories {
		if c == category {
			return true
		}
	}
	return false
}
