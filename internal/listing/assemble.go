package listing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/beevik/etree"

	"marketplace/internal/catalog"
)

// ErrInvalidListType is returned when a list type cannot be used as an element name.
var ErrInvalidListType = errors.New("invalid list type")

// Root lists the market and its categories.
func Root(m catalog.Marketplace) *etree.Element {
	root := etree.NewElement("marketplace")
	market := root.CreateElement("market")
	market.CreateAttr("id", m.ID)
	market.CreateAttr("name", m.Name)
	market.CreateAttr("url", m.URL+"/category/markets/"+m.ID)

	// count is the position in the table, not the number of plugins.
	for i, c := range m.Categories {
		category := market.CreateElement("category")
		category.CreateAttr("count", strconv.Itoa(i+1))
		category.CreateAttr("id", c.ID)
		category.CreateAttr("name", c.Name)
		category.CreateAttr("url", termURL(m, c.ID))
	}
	return root
}

// Catalogs describes the single catalog this service offers and its wizard tabs.
func Catalogs(m catalog.Marketplace) *etree.Element {
	root := etree.NewElement("marketplace")
	cat := root.CreateElement("catalogs").CreateElement("catalog")
	cat.CreateAttr("id", m.ID)
	cat.CreateAttr("title", m.Title)
	cat.CreateAttr("url", m.URL)
	cat.CreateAttr("selfContained", "1")
	cat.CreateAttr("icon", iconURL(m))

	cat.CreateElement("description").SetText(m.Description)
	cat.CreateElement("dependenciesRepository")

	wizard := cat.CreateElement("wizard")
	wizard.CreateAttr("title", "")
	wizard.CreateElement("icon")
	tab(wizard, "searchtab", m.Tabs.Search, m.Tabs.SearchLabel)
	tab(wizard, "populartab", m.Tabs.Popular, m.Tabs.PopularLabel)
	tab(wizard, "recenttab", m.Tabs.Recent, m.Tabs.RecentLabel)
	return root
}

func tab(wizard *etree.Element, tag string, enabled bool, label string) {
	t := wizard.CreateElement(tag)
	t.CreateAttr("enabled", flag(enabled))
	t.SetText(label)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func iconURL(m catalog.Marketplace) string {
	if m.Icon == "" || strings.HasPrefix(m.Icon, "http") {
		return m.Icon
	}
	return m.URL + "/" + m.Icon
}

// Taxonomy lists the plugins of one category. categoryRef may be an id or a
// display name.
func Taxonomy(c *catalog.Catalog, categoryRef string) (*etree.Element, error) {
	m := c.Marketplace
	resolver := m.Resolver()

	id, err := resolver.Normalize(categoryRef)
	if err != nil {
		return nil, err
	}
	name, err := resolver.NameFor(id)
	if err != nil {
		return nil, err
	}

	root := etree.NewElement("marketplace")
	category := root.CreateElement("category")
	category.CreateAttr("id", id)
	category.CreateAttr("name", name)
	category.CreateAttr("url", termURL(m, id))

	for _, p := range c.Plugins {
		if !catalog.SameCategory(p.Category, id) {
			continue
		}
		node := category.CreateElement("node")
		node.CreateAttr("id", p.ID)
		node.CreateAttr("name", p.Title)
		node.CreateAttr("url", contentURL(m, p.ID))
		// favorited is a sibling of node, not a child.
		category.CreateElement("favorited").SetText("0")
	}
	return root, nil
}

// Content wraps the node of one plugin.
func Content(c *catalog.Catalog, id string) (*etree.Element, error) {
	node, err := NodeFor(c, id)
	if err != nil {
		return nil, err
	}
	root := etree.NewElement("marketplace")
	root.AddChild(node)
	return root, nil
}

// ListByType wraps plugin nodes in an element named after listType (featured,
// recent, popular, favorites, ...). marketID is accepted for protocol
// compatibility and does not filter.
func ListByType(c *catalog.Catalog, listType, marketID string) (*etree.Element, error) {
	if !validName(listType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidListType, listType)
	}

	plugins := c.Plugins
	if c.Marketplace.FilterFeatured && listType == "featured" {
		plugins = featured(plugins)
	}

	root := etree.NewElement("marketplace")
	list := root.CreateElement(listType)
	list.CreateAttr("count", strconv.Itoa(len(plugins)))
	for _, p := range plugins {
		list.AddChild(Node(c.Marketplace, p))
	}
	return root, nil
}

func featured(plugins []catalog.Plugin) []catalog.Plugin {
	var out []catalog.Plugin
	for _, p := range plugins {
		if p.IsFeatured() {
			out = append(out, p)
		}
	}
	return out
}

// Search wraps the nodes of the given plugin ids, in the order given.
func Search(c *catalog.Catalog, term string, ids []string) (*etree.Element, error) {
	root := etree.NewElement("marketplace")
	search := root.CreateElement("search")
	search.CreateAttr("term", term)
	search.CreateAttr("count", strconv.Itoa(len(ids)))

	for _, id := range ids {
		node, err := NodeFor(c, id)
		if err != nil {
			return nil, err
		}
		search.AddChild(node)
	}
	return root, nil
}

// validName reports whether s can be used as an XML element name without a namespace.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return true
}
