package offers

import (
	"strings"

	"golang.org/x/net/html"

	"offerlens/internal/dom"
)

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// GetAttr exposes attribute lookup to the DOM backends.
func GetAttr(n *html.Node, name string) string { return getAttr(n, name) }

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

// collectText concatenates the text below n with condensed whitespace.
func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			switch c.Data {
			case "script", "style", "noscript":
				return
			}
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return condenseSpaces(b.String())
}

// CollectText is the exported form of collectText.
func CollectText(n *html.Node) string { return collectText(n) }

func condenseSpaces(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// styleMarker is one CSS declaration looked for in inline style attributes.
type styleMarker struct {
	property string
	value    string
}

func parseStyleMarker(decl string) (*styleMarker, error) {
	decls, err := dom.ParseStyle(decl)
	if err != nil {
		return nil, err
	}
	if len(decls) == 0 {
		return nil, errEmptyMarker
	}
	return &styleMarker{
		property: strings.ToLower(decls[0].Property),
		value:    normalizeCSSValue(decls[0].Value),
	}, nil
}

func (m *styleMarker) matches(n *html.Node) bool {
	if m == nil || n.Type != html.ElementNode {
		return false
	}
	style := getAttr(n, "style")
	if style == "" {
		return false
	}
	decls, err := dom.ParseStyle(style)
	if err != nil {
		return false
	}
	for _, d := range decls {
		if strings.ToLower(d.Property) == m.property && normalizeCSSValue(d.Value) == m.value {
			return true
		}
	}
	return false
}

func normalizeCSSValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.Join(strings.Fields(v), "")
}
