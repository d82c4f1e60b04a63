package memdoc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Host simulates the host page's own script: a load-more control that, when
// clicked, renders the next batch of cards after Latency. It satisfies
// paginate.Realm.
type Host struct {
	Doc       *Doc
	Container string
	Card      string
	// Skeleton and Carousel mark Card matches that CountCards skips, as
	// does a card without text.
	Skeleton string
	Carousel string
	// Batches lists how many cards each successive click renders. Clicks
	// past the end render nothing.
	Batches []int
	Latency time.Duration
	// Button reports whether the load-more control is present.
	Button bool
	// HandlerKey, when set, is the framework handler property the probe
	// finds on the control.
	HandlerKey string
	// InstallErr fails Install, standing in for a script that did not load.
	InstallErr error
	// Render builds the markup of card n (1-based). Defaults to
	// DefaultCard.
	Render func(n int) string

	mu         sync.Mutex
	clicks     int
	invoked    int
	dispatched int
	rendered   int
}

// DefaultCard renders a minimal card with a unique merchant.
func DefaultCard(n int) string {
	return fmt.Sprintf(`<div data-testid="feed-tile-%d"><img src="/logo.png?domain=m%d.example.com" alt="Merchant %d"><div style="color: rgb(37, 129, 14)">%dX miles</div></div>`, n, n, n, n%9+1)
}

// Seed renders n cards into the container without counting a click.
func (h *Host) Seed(n int) error {
	return h.render(n)
}

func (h *Host) render(n int) error {
	if n <= 0 {
		return nil
	}
	render := h.Render
	if render == nil {
		render = DefaultCard
	}
	h.mu.Lock()
	var b strings.Builder
	for i := 0; i < n; i++ {
		h.rendered++
		b.WriteString(render(h.rendered))
	}
	h.mu.Unlock()
	return h.Doc.HostInsert(h.Container, "beforeend", b.String())
}

func (h *Host) click() {
	h.mu.Lock()
	n := 0
	if h.clicks < len(h.Batches) {
		n = h.Batches[h.clicks]
	}
	h.clicks++
	h.mu.Unlock()
	if n == 0 {
		return
	}
	if h.Latency <= 0 {
		_ = h.render(n)
		return
	}
	time.AfterFunc(h.Latency, func() { _ = h.render(n) })
}

func (h *Host) Install(ctx context.Context) error { return h.InstallErr }

func (h *Host) CountCards(ctx context.Context) (int, error) {
	skeleton, err := optional(h.Skeleton)
	if err != nil {
		return 0, err
	}
	carousel, err := optional(h.Carousel)
	if err != nil {
		return 0, err
	}
	return h.Doc.CountFunc(h.Card, func(n *html.Node) bool {
		if carousel != nil {
			for p := n; p != nil; p = p.Parent {
				if p.Type == html.ElementNode && carousel.Match(p) {
					return false
				}
			}
		}
		if skeleton != nil && skeleton.MatchFirst(n) != nil {
			return false
		}
		return hasText(n)
	}), nil
}

func optional(sel string) (cascadia.Selector, error) {
	if sel == "" {
		return nil, nil
	}
	return compile(sel)
}

func hasText(n *html.Node) bool {
	if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasText(c) {
			return true
		}
	}
	return false
}

func (h *Host) FindLoadMore(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Button, nil
}

func (h *Host) ProbeHandler(ctx context.Context) (string, error) {
	return h.HandlerKey, nil
}

func (h *Host) InvokeHandler(ctx context.Context, key string) (bool, error) {
	if key == "" || key != h.HandlerKey {
		return false, nil
	}
	h.mu.Lock()
	h.invoked++
	h.mu.Unlock()
	h.click()
	return true, nil
}

func (h *Host) DispatchPointer(ctx context.Context) error {
	h.mu.Lock()
	h.dispatched++
	h.mu.Unlock()
	h.click()
	return nil
}

// Clicks reports total clicks, handler invocations and native dispatches.
func (h *Host) Clicks() (total, invoked, dispatched int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clicks, h.invoked, h.dispatched
}

// SetButton toggles the load-more control.
func (h *Host) SetButton(present bool) {
	h.mu.Lock()
	h.Button = present
	h.mu.Unlock()
}
