// Package watch reacts to cards the host page renders on its own.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"offerlens/internal/dom"
	"offerlens/offers"
)

// DefaultDebounce coalesces bursts of insertions.
const DefaultDebounce = 150 * time.Millisecond

// Card is a newly seen card and the record extracted from it.
type Card struct {
	Record offers.Record
	Node   *html.Node
}

// Hook is a feature that needs to know about new cards. It returns the
// writes it wants; the coordinator applies them in one batch.
type Hook interface {
	Name() string
	NewCards(ctx context.Context, cards []Card) []dom.Op
}

type hookEntry struct {
	hook    Hook
	enabled bool
}

// Config wires a Coordinator.
type Config struct {
	Container string
	Stamp     string
	KeyAttr   string
	Debounce  time.Duration
	Logger    zerolog.Logger
}

// Coordinator owns the document observer. Suspending it pauses only the
// observer; whether each hook is enabled is tracked on its own.
type Coordinator struct {
	doc   dom.Document
	ex    *offers.Extractor
	cache *offers.Cache
	cfg   Config
	log   zerolog.Logger

	mu        sync.Mutex
	obs       dom.Observation
	suspended int
	hooks     []*hookEntry
	seen      int
}

func New(doc dom.Document, ex *offers.Extractor, cache *offers.Cache, cfg Config) *Coordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.KeyAttr == "" {
		cfg.KeyAttr = offers.KeyAttr
	}
	if cache == nil {
		cache = offers.NewCache()
	}
	return &Coordinator{doc: doc, ex: ex, cache: cache, cfg: cfg, log: cfg.Logger}
}

// Register adds h. Hooks run in registration order.
func (c *Coordinator) Register(h Hook, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, &hookEntry{hook: h, enabled: enabled})
}

func (c *Coordinator) setEnabled(name string, on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.hooks {
		if e.hook.Name() == name {
			e.enabled = on
			return true
		}
	}
	return false
}

// Enable turns a hook on. It reports false for unknown names.
func (c *Coordinator) Enable(name string) bool { return c.setEnabled(name, true) }

// Disable turns a hook off. It reports false for unknown names.
func (c *Coordinator) Disable(name string) bool { return c.setEnabled(name, false) }

func (c *Coordinator) Enabled(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.hooks {
		if e.hook.Name() == name {
			return e.enabled
		}
	}
	return false
}

// Suspend pauses the observer. Calls nest; the observer resumes when every
// Suspend has been matched by a Resume.
func (c *Coordinator) Suspend(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended++
	if c.suspended == 1 && c.obs != nil {
		return c.obs.Pause(ctx)
	}
	return nil
}

func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suspended == 0 {
		return nil
	}
	c.suspended--
	if c.suspended == 0 && c.obs != nil {
		return c.obs.Resume(ctx)
	}
	return nil
}

// Suspended reports whether the observer is paused.
func (c *Coordinator) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended > 0
}

// Observing reports whether Run has its observer in place.
func (c *Coordinator) Observing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.obs != nil
}

// Seen reports how many new cards have been routed to hooks.
func (c *Coordinator) Seen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen
}

// Run observes the container until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	obs, err := c.doc.Observe(ctx, dom.ObserveRequest{
		Target:  c.cfg.Container,
		Stamp:   c.cfg.Stamp,
		KeyAttr: c.cfg.KeyAttr,
	})
	if err != nil {
		return err
	}
	defer obs.Close()

	c.mu.Lock()
	c.obs = obs
	paused := c.suspended > 0
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.obs = nil
		c.mu.Unlock()
	}()
	if paused {
		if err := obs.Pause(ctx); err != nil {
			return err
		}
	}
	c.log.Debug().Str("container", c.cfg.Container).Msg("WATCH observing")

	timer := time.NewTimer(c.cfg.Debounce)
	stopTimer(timer)
	var pending []*html.Node
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-obs.Events():
			if !ok {
				return ctx.Err()
			}
			pending = append(pending, m.Added...)
			stopTimer(timer)
			timer.Reset(c.cfg.Debounce)
		case <-timer.C:
			batch := pending
			pending = nil
			if n := c.process(ctx, batch); n > 0 {
				c.log.Debug().Int("cards", n).Msg("WATCH new cards")
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// Scan routes every unprocessed card of a snapshot through the hooks. It is
// used after bulk operations, during which the observer was suspended.
func (c *Coordinator) Scan(ctx context.Context, snap *html.Node) int {
	if snap == nil {
		return 0
	}
	return c.process(ctx, []*html.Node{snap})
}

func (c *Coordinator) process(ctx context.Context, nodes []*html.Node) int {
	var cards []Card
	for _, n := range nodes {
		for _, card := range c.ex.Cards(n) {
			key := offers.GetAttr(card, c.cfg.KeyAttr)
			if key == "" || !c.cache.MarkProcessed(key) {
				continue
			}
			rec, ok := c.cache.Lookup(key)
			if !ok {
				rec = c.ex.Extract(card)
				c.cache.Store(rec)
			}
			cards = append(cards, Card{Record: rec, Node: card})
		}
	}
	if len(cards) == 0 {
		return 0
	}

	c.mu.Lock()
	c.seen += len(cards)
	var active []Hook
	for _, e := range c.hooks {
		if e.enabled {
			active = append(active, e.hook)
		}
	}
	c.mu.Unlock()

	var b dom.Batch
	for _, h := range active {
		b.Add(h.NewCards(ctx, cards)...)
	}
	if !b.Empty() {
		if err := c.doc.Apply(ctx, b); err != nil {
			c.log.Warn().Err(err).Int("ops", len(b.Ops)).Msg("WATCH hook writes failed")
		}
	}
	return len(cards)
}
