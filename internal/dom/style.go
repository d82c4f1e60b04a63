package dom

import (
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// ParseStyle parses an inline style attribute. Inline styles usually omit
// the final semicolon, which the declaration parser needs to keep the last
// value, so one is appended.
func ParseStyle(style string) ([]*css.Declaration, error) {
	style = strings.TrimSpace(style)
	if style == "" {
		return nil, nil
	}
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	return parser.ParseDeclarations(style)
}

// FormatStyle serialises declarations back into an inline style attribute.
func FormatStyle(decls []*css.Declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		if d == nil || d.Property == "" {
			continue
		}
		parts = append(parts, d.String())
	}
	return strings.Join(parts, " ")
}

// WithDeclaration returns style with prop set to value, replacing any
// earlier declaration of prop. An unparsable style is replaced outright.
func WithDeclaration(style, prop, value string, important bool) string {
	decls, err := ParseStyle(style)
	if err != nil {
		decls = nil
	}
	prop = strings.ToLower(strings.TrimSpace(prop))
	out := make([]*css.Declaration, 0, len(decls)+1)
	for _, d := range decls {
		if strings.ToLower(d.Property) != prop {
			out = append(out, d)
		}
	}
	out = append(out, &css.Declaration{Property: prop, Value: value, Important: important})
	return FormatStyle(out)
}

// WithoutDeclaration returns style with every declaration of prop removed.
func WithoutDeclaration(style, prop string) string {
	decls, err := ParseStyle(style)
	if err != nil {
		return style
	}
	prop = strings.ToLower(strings.TrimSpace(prop))
	out := decls[:0]
	for _, d := range decls {
		if strings.ToLower(d.Property) != prop {
			out = append(out, d)
		}
	}
	return FormatStyle(out)
}

// Declaration returns the value of prop in style.
func Declaration(style, prop string) (string, bool, bool) {
	decls, err := ParseStyle(style)
	if err != nil {
		return "", false, false
	}
	prop = strings.ToLower(strings.TrimSpace(prop))
	for i := len(decls) - 1; i >= 0; i-- {
		if strings.ToLower(decls[i].Property) == prop {
			return decls[i].Value, decls[i].Important, true
		}
	}
	return "", false, false
}
