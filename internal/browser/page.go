package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"offerlens/internal/dom"
)

// WorldName names the isolated world offerlens creates on the main frame.
const WorldName = "offerlens"

//go:embed js/world.js
var worldJS string

// Page implements dom.Document in the isolated world of the tab's current
// document. It becomes useless after the next main-frame navigation.
type Page struct {
	tab     context.Context
	world   runtime.ExecutionContextID
	log     zerolog.Logger
	nextObs atomic.Int64
}

var _ dom.Document = (*Page)(nil)

func attachPage(ctx, tab context.Context, log zerolog.Logger) (*Page, error) {
	var world runtime.ExecutionContextID
	err := run(tab, ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		world, err = page.CreateIsolatedWorld(tree.Frame.ID).WithWorldName(WorldName).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("browser: isolated world: %w", err)
	}
	p := &Page{tab: tab, world: world, log: log}
	var ok bool
	if err := p.eval(ctx, worldJS, &ok); err != nil {
		return nil, fmt.Errorf("browser: install world script: %w", err)
	}
	log.Debug().Int64("context", int64(world)).Msg("BROWSER isolated world ready")
	return p, nil
}

// call renders fn(args...) against the world helper with JSON arguments.
func call(global, fn string, args ...any) (string, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(b))
	}
	return fmt.Sprintf("%s.%s(%s)", global, fn, strings.Join(parts, ", ")), nil
}

func (p *Page) eval(ctx context.Context, expr string, res any) error {
	return run(p.tab, ctx, chromedp.Evaluate(expr, res, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithContextID(p.world).WithAwaitPromise(true)
	}))
}

func (p *Page) callWorld(ctx context.Context, res any, fn string, args ...any) error {
	expr, err := call("globalThis.__offerlensWorld", fn, args...)
	if err != nil {
		return err
	}
	return p.eval(ctx, expr, res)
}

type snapshotArgs struct {
	Roots   []string `json:"roots"`
	Stamp   string   `json:"stamp"`
	KeyAttr string   `json:"keyAttr"`
}

// Snapshot implements dom.Document.
func (p *Page) Snapshot(ctx context.Context, req dom.SnapshotRequest) (*html.Node, error) {
	var parts []string
	if err := p.callWorld(ctx, &parts, "snapshot", snapshotArgs{Roots: req.Roots, Stamp: req.Stamp, KeyAttr: req.KeyAttr}); err != nil {
		return nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	return buildSnapshot(parts)
}

// buildSnapshot parses outer HTML fragments under a synthetic root.
func buildSnapshot(parts []string) (*html.Node, error) {
	root := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "id", Val: dom.SnapshotID}},
	}
	nodes, err := parseFragments(parts)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

func parseFragments(parts []string) ([]*html.Node, error) {
	var out []*html.Node
	for _, s := range parts {
		holder := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
		nodes, err := html.ParseFragment(strings.NewReader(s), holder)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

type applyResult struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Apply implements dom.Document. Ops run in one script evaluation, on the
// next animation frame when b.NextFrame is set.
func (p *Page) Apply(ctx context.Context, b dom.Batch) error {
	if b.Empty() {
		return nil
	}
	var res applyResult
	if err := p.callWorld(ctx, &res, "apply", b); err != nil {
		return fmt.Errorf("browser: apply: %w", err)
	}
	return batchError(b, res)
}

func batchError(b dom.Batch, res applyResult) error {
	if res.Error == "" {
		return nil
	}
	err := errors.New(res.Error)
	if res.Error == "no-target" {
		err = dom.ErrNoTarget
	}
	if res.Index >= 0 && res.Index < len(b.Ops) {
		return fmt.Errorf("browser: op %d (%s): %w", res.Index, b.Ops[res.Index], err)
	}
	return fmt.Errorf("browser: apply: %w", err)
}

// Marker implements dom.Document.
func (p *Page) Marker(ctx context.Context, id string) (map[string]string, bool, error) {
	var attrs map[string]string
	if err := p.callWorld(ctx, &attrs, "marker", id); err != nil {
		return nil, false, fmt.Errorf("browser: marker %s: %w", id, err)
	}
	return attrs, attrs != nil, nil
}
