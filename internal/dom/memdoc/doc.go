// Package memdoc is an in-memory dom.Document over an x/net/html tree. It
// backs the offline tools and every browser-free test, and can simulate the
// host page inserting cards on its own.
package memdoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"offerlens/internal/dom"
)

// Doc is safe for concurrent use.
type Doc struct {
	mu        sync.Mutex
	root      *html.Node
	nextKey   int
	observers []*observation
	applied   int
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Doc, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("memdoc: parse: %w", err)
	}
	return &Doc{root: root}, nil
}

// New parses src and panics on error. Intended for fixtures.
func New(src string) *Doc {
	d, err := Parse(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return d
}

func compile(sel string) (cascadia.Selector, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("memdoc: selector %q: %w", sel, err)
	}
	return s, nil
}

func (d *Doc) body() *html.Node {
	if n := cascadia.Query(d.root, cascadia.MustCompile("body")); n != nil {
		return n
	}
	return d.root
}

func (d *Doc) stampLocked(under *html.Node, sel cascadia.Selector, keyAttr string) {
	if sel == nil || keyAttr == "" {
		return
	}
	for _, n := range sel.MatchAll(under) {
		if getAttr(n, keyAttr) == "" {
			d.nextKey++
			setAttr(n, keyAttr, strconv.Itoa(d.nextKey))
		}
	}
}

// Snapshot implements dom.Document.
func (d *Doc) Snapshot(ctx context.Context, req dom.SnapshotRequest) (*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stamp cascadia.Selector
	if req.Stamp != "" {
		s, err := compile(req.Stamp)
		if err != nil {
			return nil, err
		}
		stamp = s
	}
	roots := make([]cascadia.Selector, 0, len(req.Roots))
	for _, r := range req.Roots {
		s, err := compile(r)
		if err != nil {
			return nil, err
		}
		roots = append(roots, s)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stampLocked(d.root, stamp, req.KeyAttr)
	out := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "id", Val: dom.SnapshotID}},
	}
	for _, s := range roots {
		for _, n := range s.MatchAll(d.root) {
			out.AppendChild(clone(n))
		}
	}
	return out, nil
}

// Marker implements dom.Document.
func (d *Doc) Marker(ctx context.Context, id string) (map[string]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := dom.Find(d.root, id)
	if n == nil {
		return nil, false, nil
	}
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	return attrs, true, nil
}

// Apply implements dom.Document. The batch is applied atomically with
// respect to other Doc calls; frame and scroll hints have no meaning here.
func (d *Doc) Apply(ctx context.Context, b dom.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, op := range b.Ops {
		if err := d.applyLocked(op); err != nil {
			return fmt.Errorf("memdoc: op %d (%s): %w", i, op, err)
		}
	}
	d.applied++
	return nil
}

// Applied reports how many batches have been applied.
func (d *Doc) Applied() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied
}

func (d *Doc) applyLocked(op dom.Op) error {
	sel, err := compile(op.Target)
	if err != nil {
		return err
	}
	targets := sel.MatchAll(d.root)
	switch op.Kind {
	case dom.OpSetAttr:
		for _, n := range targets {
			setAttr(n, op.Name, op.Value)
		}
	case dom.OpRemoveAttr:
		for _, n := range targets {
			removeAttr(n, op.Name)
		}
	case dom.OpSetStyle:
		for _, n := range targets {
			setStyle(n, dom.WithDeclaration(getAttr(n, "style"), op.Name, op.Value, op.Important))
		}
	case dom.OpRemoveStyle:
		for _, n := range targets {
			setStyle(n, dom.WithoutDeclaration(getAttr(n, "style"), op.Name))
		}
	case dom.OpSetStyleAttr:
		for _, n := range targets {
			setStyle(n, op.Value)
		}
	case dom.OpInsertHTML:
		if len(targets) == 0 {
			return dom.ErrNoTarget
		}
		return d.insertLocked(targets[0], op.Position, op.HTML)
	case dom.OpMove:
		destSel, err := compile(op.Dest)
		if err != nil {
			return err
		}
		dest := destSel.MatchFirst(d.root)
		if dest == nil {
			if len(targets) == 0 {
				return nil
			}
			return dom.ErrNoTarget
		}
		for _, n := range targets {
			if n == dest || isAncestor(n, dest) || n.Parent == nil {
				continue
			}
			n.Parent.RemoveChild(n)
			dest.AppendChild(n)
			d.notifyLocked(dest, []*html.Node{n})
		}
	case dom.OpRemoveChildren:
		for _, n := range targets {
			for c := n.FirstChild; c != nil; c = n.FirstChild {
				n.RemoveChild(c)
			}
		}
	case dom.OpRemove:
		for _, n := range targets {
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
		}
	default:
		return fmt.Errorf("unsupported op kind %d", op.Kind)
	}
	return nil
}

func (d *Doc) insertLocked(target *html.Node, position, markup string) error {
	holder := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(markup), holder)
	if err != nil {
		return err
	}
	var parent *html.Node
	switch strings.ToLower(position) {
	case dom.BeforeBegin:
		parent = target.Parent
		for _, n := range nodes {
			parent.InsertBefore(n, target)
		}
	case dom.AfterBegin:
		parent = target
		first := target.FirstChild
		for _, n := range nodes {
			target.InsertBefore(n, first)
		}
	case dom.AfterEnd:
		parent = target.Parent
		next := target.NextSibling
		for _, n := range nodes {
			parent.InsertBefore(n, next)
		}
	case dom.BeforeEnd, "":
		parent = target
		for _, n := range nodes {
			target.AppendChild(n)
		}
	default:
		return fmt.Errorf("unknown insert position %q", position)
	}
	if parent == nil {
		return dom.ErrNoTarget
	}
	d.notifyLocked(parent, nodes)
	return nil
}

// HostInsert inserts markup the way the host page's own script would:
// outside any batch, visible to running observations.
func (d *Doc) HostInsert(target, position, markup string) error {
	sel, err := compile(target)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := sel.MatchFirst(d.root)
	if n == nil {
		return dom.ErrNoTarget
	}
	return d.insertLocked(n, position, markup)
}

// HostRemove detaches every element matching target.
func (d *Doc) HostRemove(target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyLocked(dom.Remove(target))
}

// Count returns how many elements match sel.
func (d *Doc) Count(sel string) int {
	s, err := compile(sel)
	if err != nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(s.MatchAll(d.root))
}

// CountFunc counts the elements matching sel for which keep reports true.
// keep sees live nodes and must not retain them.
func (d *Doc) CountFunc(sel string, keep func(*html.Node) bool) int {
	s, err := compile(sel)
	if err != nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, el := range s.MatchAll(d.root) {
		if keep(el) {
			n++
		}
	}
	return n
}

// Query returns detached copies of every element matching sel.
func (d *Doc) Query(sel string) []*html.Node {
	s, err := compile(sel)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*html.Node
	for _, n := range s.MatchAll(d.root) {
		out = append(out, clone(n))
	}
	return out
}

// Attr returns attribute name of the first element matching sel.
func (d *Doc) Attr(sel, name string) (string, bool) {
	nodes := d.Query(sel)
	if len(nodes) == 0 {
		return "", false
	}
	for _, a := range nodes[0].Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// HTML renders the whole document.
func (d *Doc) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, d.root)
	return buf.String()
}

func clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(clone(ch))
	}
	return c
}

func isAncestor(a, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func setStyle(n *html.Node, style string) {
	if strings.TrimSpace(style) == "" {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", style)
}
