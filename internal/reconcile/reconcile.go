// Package reconcile turns sort and filter decisions into document writes.
//
// Every change is computed first from a snapshot, without touching the
// document, and then committed as one batch on the next animation frame with
// the mutation observer suspended.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"offerlens/internal/dom"
	"offerlens/offers"
)

// Mode is the presentation of the offers list.
type Mode string

const (
	Grid  Mode = "grid"
	Table Mode = "table"
)

// ParseMode accepts "grid" and "table".
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case Grid, Table:
		return Mode(s), true
	}
	return "", false
}

// Suspender pauses whatever observes the document while a batch is written.
type Suspender interface {
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Config wires a Reconciler.
type Config struct {
	Container string
	KeyAttr   string
	Suspender Suspender
	Logger    zerolog.Logger
}

// Reconciler is the only writer of ordering and visibility state. It keeps
// the original inline style of every card it touched so that clearing an
// override restores the host's styling exactly.
type Reconciler struct {
	doc       dom.Document
	container string
	sel       cascadia.Selector
	keyAttr   string
	susp      Suspender
	log       zerolog.Logger

	mu             sync.Mutex
	saved          map[string]string
	containerStyle *string
	nextOrder      int
	overridden     bool
	table          *tableState
	// rank is the page position of each card key when first seen. Table
	// mode moves cards around, so document order is only trusted once.
	rank     map[string]int
	nextRank int
}

func New(doc dom.Document, cfg Config) (*Reconciler, error) {
	sel, err := cascadia.Compile(cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("reconcile: container selector %q: %w", cfg.Container, err)
	}
	if cfg.KeyAttr == "" {
		cfg.KeyAttr = offers.KeyAttr
	}
	return &Reconciler{
		doc:       doc,
		container: cfg.Container,
		sel:       sel,
		keyAttr:   cfg.KeyAttr,
		susp:      cfg.Suspender,
		log:       cfg.Logger,
		saved:     make(map[string]string),
		rank:      make(map[string]int),
	}, nil
}

// SetSuspender replaces the suspender; used when the observer is created
// after the reconciler.
func (r *Reconciler) SetSuspender(s Suspender) {
	r.mu.Lock()
	r.susp = s
	r.mu.Unlock()
}

// Roots lists the subtrees a snapshot must capture for planning: the
// container plus the table and holding area while they exist.
func (r *Reconciler) Roots() []string {
	return []string{r.container, dom.ByID(TableID), dom.ByID(HoldingID)}
}

// Mode reports the current presentation.
func (r *Reconciler) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.table != nil {
		return Table
	}
	return Grid
}

// Overridden reports whether a sort or filter override is applied in grid
// mode.
func (r *Reconciler) Overridden() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overridden
}

// InPageOrder returns recs sorted by the position each card held on the
// page when first seen. Unseen cards rank after known ones, in input order.
func (r *Reconciler) InPageOrder(recs []offers.Record) []offers.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if rec.Key == "" {
			continue
		}
		if _, ok := r.rank[rec.Key]; !ok {
			r.rank[rec.Key] = r.nextRank
			r.nextRank++
		}
	}
	out := append([]offers.Record(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool {
		return r.rankOf(out[i].Key) < r.rankOf(out[j].Key)
	})
	return out
}

func (r *Reconciler) rankOf(key string) int {
	if n, ok := r.rank[key]; ok {
		return n
	}
	return r.nextRank
}

func (r *Reconciler) cardSel(key string) string { return dom.ByAttr(r.keyAttr, key) }

// view is what planning reads out of a snapshot.
type view struct {
	container *html.Node
	table     *html.Node
	holding   *html.Node
	styles    map[string]string
	// order holds the keys of the cards inside the container, in document
	// order.
	order []string
}

func (r *Reconciler) read(snap *html.Node) (*view, error) {
	v := &view{styles: make(map[string]string)}
	if snap != nil {
		v.container = r.sel.MatchFirst(snap)
		v.table = dom.Find(snap, TableID)
		v.holding = dom.Find(snap, HoldingID)
	}
	if v.container == nil {
		return nil, offers.ErrContainerNotFound
	}
	var walk func(n *html.Node, inContainer bool)
	walk = func(n *html.Node, inContainer bool) {
		if n.Type == html.ElementNode {
			if key := offers.GetAttr(n, r.keyAttr); key != "" {
				v.styles[key] = offers.GetAttr(n, "style")
				if inContainer {
					v.order = append(v.order, key)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inContainer || c == v.container)
		}
	}
	walk(snap, false)
	return v, nil
}

// original returns the style key had before offerlens first touched it,
// capturing it from current when unknown. r.mu must be held.
func (r *Reconciler) original(key, current string) string {
	if s, ok := r.saved[key]; ok {
		return s
	}
	r.saved[key] = current
	return current
}

func (r *Reconciler) saveContainer(v *view) {
	if r.containerStyle == nil {
		s := offers.GetAttr(v.container, "style")
		r.containerStyle = &s
	}
}

// Commit writes b on the next frame with the observer suspended.
func (r *Reconciler) Commit(ctx context.Context, b dom.Batch) error {
	if b.Empty() {
		return nil
	}
	b.NextFrame = true
	b.PreserveScroll = true
	r.mu.Lock()
	susp := r.susp
	r.mu.Unlock()
	if susp != nil {
		if err := susp.Suspend(ctx); err != nil {
			return fmt.Errorf("reconcile: suspend observer: %w", err)
		}
		defer func() {
			if err := susp.Resume(ctx); err != nil {
				r.log.Warn().Err(err).Msg("RECONCILE resume observer failed")
			}
		}()
	}
	if err := r.doc.Apply(ctx, b); err != nil {
		return fmt.Errorf("reconcile: apply %d ops: %w", len(b.Ops), err)
	}
	r.log.Debug().Int("ops", len(b.Ops)).Msg("RECONCILE commit")
	return nil
}
