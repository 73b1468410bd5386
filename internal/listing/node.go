// Package listing builds the XML documents of the Eclipse Marketplace protocol
// from a catalog snapshot.
//
// Every assembler returns a fresh "marketplace" root element; Serialize turns
// it into the bytes sent to the client. Nothing here performs I/O.
package listing

import (
	"strings"

	"github.com/beevik/etree"

	"marketplace/internal/catalog"
)

// NodeFor builds the node of the plugin with the given id.
func NodeFor(c *catalog.Catalog, id string) (*etree.Element, error) {
	p, err := c.Plugin(id)
	if err != nil {
		return nil, err
	}
	return Node(c.Marketplace, p), nil
}

// Node builds the full description of one plugin.
func Node(m catalog.Marketplace, p catalog.Plugin) *etree.Element {
	node := etree.NewElement("node")
	node.CreateAttr("id", p.ID)
	node.CreateAttr("name", p.Title)
	node.CreateAttr("url", contentURL(m, p.ID))

	setCData(node.CreateElement("body"), p.Description)

	// The protocol nests categories twice. The inner name is the plugin title.
	inner := node.CreateElement("categories").CreateElement("categories")
	inner.CreateAttr("id", p.Category)
	inner.CreateAttr("name", p.Title)
	inner.CreateAttr("url", termURL(m, p.Category))

	node.CreateElement("changed").SetText("0")
	company := p.Company
	if company == "" {
		company = m.Company
	}
	setCData(node.CreateElement("companyname"), company)
	node.CreateElement("created").SetText("0")
	setCData(node.CreateElement("eclipseversion"), "0")
	node.CreateElement("favorited").SetText("0")
	node.CreateElement("foundationmember").SetText("1")
	setCData(node.CreateElement("homepageurl"), p.CompanyURL)
	setCData(node.CreateElement("image"), attachmentURL(m, p.PageID, p.Logo))
	node.CreateElement("ius").CreateElement("iu").SetText(p.InstallableUnit)
	node.CreateElement("license").SetText(p.License)
	setCData(node.CreateElement("owner"), p.Owner)
	node.CreateElement("resource")
	if p.Screenshot != "" {
		setCData(node.CreateElement("screenshot"), attachmentURL(m, p.PageID, p.Screenshot))
	}
	setCData(node.CreateElement("updateurl"), p.UpdateURL)

	return node
}

// setCData stores text as a CDATA section. A literal "]]>" inside the text is
// split across two sections so the markup stays well formed.
func setCData(e *etree.Element, text string) {
	e.CreateCData(strings.ReplaceAll(text, "]]>", "]]]]><![CDATA[>"))
}

func contentURL(m catalog.Marketplace, id string) string {
	return m.URL + "/content/" + id
}

func termURL(m catalog.Marketplace, categoryID string) string {
	return m.URL + "/taxonomy/term/" + m.ID + "," + categoryID
}

// attachmentURL returns ref unchanged when it is already absolute, otherwise
// the wiki attachment location of the file on the plugin's page.
func attachmentURL(m catalog.Marketplace, pageID, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	return strings.TrimRight(m.AttachmentBase, "/") + "/" + pageID + "/" + ref
}
