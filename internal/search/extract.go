package search

import (
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extract flattens a cached page into searchable text: the leading text of
// every table cell, each followed by a space. Cells whose text is only layout
// filler (a newline followed by indentation) are skipped.
//
// The page is read as XML first. Confluence delivers the page markup escaped
// inside <body>, so when the XML holds no cells the body text is parsed as
// HTML, and a page that is not XML at all is parsed as HTML directly.
func Extract(raw []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return extractHTML(string(raw))
	}

	cells := doc.FindElements("//td")
	if len(cells) > 0 {
		var b strings.Builder
		for _, td := range cells {
			appendCell(&b, td.Text())
		}
		return b.String()
	}

	var body strings.Builder
	for _, e := range doc.FindElements("//body") {
		body.WriteString(e.Text())
	}
	if body.Len() == 0 {
		return ""
	}
	return extractHTML(body.String())
}

func extractHTML(markup string) string {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Td {
			appendCell(&b, leadingText(n))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}

// leadingText returns the text before the first child element of n.
func leadingText(n *html.Node) string {
	var text strings.Builder
	for c := n.FirstChild; c != nil && c.Type == html.TextNode; c = c.NextSibling {
		text.WriteString(c.Data)
	}
	return text.String()
}

func appendCell(b *strings.Builder, text string) {
	if text == "" || strings.HasPrefix(text, "\n ") {
		return
	}
	b.WriteString(text)
	b.WriteString(" ")
}
