package reconcile

import (
	"context"
	"strconv"

	"golang.org/x/net/html"

	"offerlens/internal/dom"
	"offerlens/offers"
)

// Layout forced on the container while an override is active. The host's
// multi-region layout would otherwise ignore the order property.
var forcedLayout = [][2]string{
	{"display", "grid"},
	{"grid-template-columns", "minmax(0, 1fr)"},
	{"grid-auto-flow", "row"},
}

// PlanGrid computes the writes for decision d. When active is false every
// override is cleared and the container gets its native layout back.
func (r *Reconciler) PlanGrid(snap *html.Node, d offers.Decision, active bool) (dom.Batch, error) {
	v, err := r.read(snap)
	if err != nil {
		return dom.Batch{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !active {
		return r.planClearLocked(), nil
	}

	var b dom.Batch
	r.saveContainer(v)
	for _, kv := range forcedLayout {
		b.Add(dom.SetStyle(r.container, kv[0], kv[1], true))
	}
	for i, rec := range d.Ordered {
		if rec.Key == "" {
			continue
		}
		orig := r.original(rec.Key, v.styles[rec.Key])
		sel := r.cardSel(rec.Key)
		b.Add(
			dom.SetAttr(sel, dom.OrderAttr, strconv.Itoa(i)),
			dom.SetStyleAttr(sel, dom.WithDeclaration(orig, "order", strconv.Itoa(i), false)),
		)
	}
	for _, rec := range d.Hidden {
		if rec.Key == "" {
			continue
		}
		orig := r.original(rec.Key, v.styles[rec.Key])
		sel := r.cardSel(rec.Key)
		b.Add(
			dom.RemoveAttr(sel, dom.OrderAttr),
			dom.SetStyleAttr(sel, hiddenStyle(orig)),
		)
	}
	r.nextOrder = len(d.Ordered)
	r.overridden = true
	return b, nil
}

func hiddenStyle(orig string) string {
	return dom.WithDeclaration(orig, "display", "none", true)
}

// planClearLocked restores every card and the container. r.mu must be held.
func (r *Reconciler) planClearLocked() dom.Batch {
	var b dom.Batch
	for key, orig := range r.saved {
		sel := r.cardSel(key)
		b.Add(dom.RemoveAttr(sel, dom.OrderAttr), dom.SetStyleAttr(sel, orig))
	}
	if r.containerStyle != nil {
		b.Add(dom.SetStyleAttr(r.container, *r.containerStyle))
	}
	r.saved = make(map[string]string)
	r.containerStyle = nil
	r.nextOrder = 0
	r.overridden = false
	return b
}

// ApplyGrid plans and commits decision d.
func (r *Reconciler) ApplyGrid(ctx context.Context, snap *html.Node, d offers.Decision, active bool) error {
	b, err := r.PlanGrid(snap, d, active)
	if err != nil {
		return err
	}
	return r.Commit(ctx, b)
}

// Late is a card the host rendered after the last commit.
type Late struct {
	Record offers.Record
	Style  string
	// Visible is the verdict of the active filter.
	Visible bool
}

// PlanLate keeps late cards consistent with the active grid override:
// visible ones go after every ordered card, the rest are hidden. Nothing is
// planned when no override is active or the table is shown.
func (r *Reconciler) PlanLate(late []Late) []dom.Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.overridden || r.table != nil {
		return nil
	}
	var ops []dom.Op
	for _, l := range late {
		key := l.Record.Key
		if key == "" {
			continue
		}
		orig := r.original(key, l.Style)
		sel := r.cardSel(key)
		if !l.Visible {
			ops = append(ops, dom.SetStyleAttr(sel, hiddenStyle(orig)))
			continue
		}
		i := r.nextOrder
		r.nextOrder++
		ops = append(ops,
			dom.SetAttr(sel, dom.OrderAttr, strconv.Itoa(i)),
			dom.SetStyleAttr(sel, dom.WithDeclaration(orig, "order", strconv.Itoa(i), false)),
		)
	}
	return ops
}
