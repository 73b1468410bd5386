// Package catalog holds the plugin records served by the marketplace and the
// marketplace's own identity.
//
// A Catalog is a read-only snapshot: it is loaded from a Source at the start of
// each request and never mutated afterwards, so it can be shared freely between
// goroutines.
package catalog

import (
	"fmt"
	"strings"
)

// Category is a named classification that plugins reference by ID.
type Category struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Name string `mapstructure:"name" yaml:"name"`
}

// Tabs controls which wizard tabs the client shows and how they are labelled.
type Tabs struct {
	Search       bool
	Popular      bool
	Recent       bool
	SearchLabel  string
	PopularLabel string
	RecentLabel  string
}

// Marketplace describes the service itself.
type Marketplace struct {
	ID           string
	Name         string
	Title        string
	URL          string
	Icon         string
	Description  string
	Company      string
	CompanyURL   string
	UpdateURL    string
	MainWikiPage string
	WikiView     string

	// AttachmentBase is prepended to logo and screenshot file names that are
	// not absolute URLs, followed by the plugin's page id.
	AttachmentBase string

	Categories []Category
	Tabs       Tabs

	// FilterFeatured restricts the "featured" listing to plugins flagged as
	// featured. Off by default: every listing type shows all plugins.
	FilterFeatured bool
}

// Resolver returns a category resolver over the marketplace's category table.
func (m Marketplace) Resolver() Resolver {
	return Resolver{categories: m.Categories}
}

// Plugin is one entry in the catalog.
type Plugin struct {
	PageID          string `yaml:"pageId"`
	Name            string `yaml:"name"`
	Title           string `yaml:"human_title"`
	Description     string `yaml:"description"`
	Featured        string `yaml:"featured"`
	Logo            string `yaml:"logo"`
	License         string `yaml:"license"`
	ID              string `yaml:"plugId"`
	Category        string `yaml:"category"`
	InstallableUnit string `yaml:"installableUnit"`
	Screenshot      string `yaml:"screenshot"`
	Owner           string `yaml:"owner"`
	Company         string `yaml:"company"`
	CompanyURL      string `yaml:"company_url"`
	UpdateURL       string `yaml:"update_url"`
}

// IsFeatured reports whether the featured flag is set to a truthy value.
func (p Plugin) IsFeatured() bool {
	switch strings.ToLower(strings.TrimSpace(p.Featured)) {
	case "y", "yes", "true", "1", "on":
		return true
	}
	return false
}

// withDefaults fills the organisation fields the data file may leave out.
func (p Plugin) withDefaults(m Marketplace) Plugin {
	if p.Company == "" {
		p.Company = m.Company
	}
	if p.Owner == "" {
		p.Owner = m.Company
	}
	if p.CompanyURL == "" {
		p.CompanyURL = m.CompanyURL
	}
	if p.UpdateURL == "" {
		p.UpdateURL = m.UpdateURL
	}
	return p
}

// Catalog is an immutable snapshot of all plugins plus the marketplace identity.
type Catalog struct {
	Marketplace Marketplace
	Plugins     []Plugin
}

// New builds a catalog and validates it.
func New(m Marketplace, plugins []Plugin) (*Catalog, error) {
	c := &Catalog{Marketplace: m, Plugins: make([]Plugin, 0, len(plugins))}
	for _, p := range plugins {
		c.Plugins = append(c.Plugins, p.withDefaults(m))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every plugin has an id, that ids are pairwise distinct
// and that every plugin's category is in the marketplace's category table.
func (c *Catalog) Validate() error {
	resolver := c.Marketplace.Resolver()
	seen := make(map[string]int, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.ID == "" {
			return fmt.Errorf("%w: plugin at index %d has no plugId", ErrMalformedCatalog, i)
		}
		if prev, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: duplicate plugId %q at index %d and %d", ErrMalformedCatalog, p.ID, prev, i)
		}
		seen[p.ID] = i
		if _, err := resolver.Resolve(p.Category); err != nil {
			return fmt.Errorf("%w: plugin %q: %w", ErrMalformedCatalog, p.ID, err)
		}
	}
	return nil
}

// Plugin returns the plugin with the given id.
func (c *Catalog) Plugin(id string) (Plugin, error) {
	for _, p := range c.Plugins {
		if p.ID == id {
			return p, nil
		}
	}
	return Plugin{}, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
}

// ByPageID returns the plugin whose remote page id matches.
func (c *Catalog) ByPageID(pageID string) (Plugin, error) {
	for _, p := range c.Plugins {
		if p.PageID == pageID {
			return p, nil
		}
	}
	return Plugin{}, fmt.Errorf("%w: page %s", ErrPluginNotFound, pageID)
}
