package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"offerlens/internal/dom"
	"offerlens/offers"
)

// Synthetic element ids of the tabular view.
const (
	TableID     = "offerlens-table"
	TableBodyID = "offerlens-table-body"
	PagerID     = "offerlens-table-pager"
	HoldingID   = "offerlens-holding"
	RowPrefix   = "offerlens-row-"
	RowAttr     = "data-offerlens-row"
)

// PageSize is the fixed number of rows per table page.
const PageSize = 10

// ErrNotTable is returned by page navigation outside table mode.
var ErrNotTable = errors.New("table view is not active")

// Overlay declarations stretching a real card over its row. The card stays
// clickable but invisible; the row shows the synthesized content.
var overlay = [][2]string{
	{"position", "absolute"},
	{"inset", "0"},
	{"width", "100%"},
	{"height", "100%"},
	{"margin", "0"},
	{"opacity", "0"},
	{"overflow", "hidden"},
	{"z-index", "1"},
}

type tableState struct {
	records    []offers.Record
	page       int
	totalPages int
	// original is the container order at entry, restored on exit.
	original []string
	favorite func(merchantKey string) bool
}

// TablePage describes the rendered table page.
type TablePage struct {
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
	Shown      int `json:"shown"`
	Total      int `json:"total"`
}

func totalPages(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + PageSize - 1) / PageSize
}

func clampPage(p, total int) int {
	if p < 1 {
		return 1
	}
	if p > total {
		return total
	}
	return p
}

func overlayStyle(orig string) string {
	s := orig
	for _, kv := range overlay {
		s = dom.WithDeclaration(s, kv[0], kv[1], true)
	}
	return s
}

// PlanTable renders page of the visible records of d as table rows. On
// entry it captures the container order and every card's original style;
// while already in table mode it only rebuilds the rows.
func (r *Reconciler) PlanTable(snap *html.Node, d offers.Decision, page int, favorite func(string) bool) (dom.Batch, TablePage, error) {
	v, err := r.read(snap)
	if err != nil {
		return dom.Batch{}, TablePage{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var b dom.Batch
	if r.table == nil {
		r.table = &tableState{original: append([]string(nil), v.order...)}
		r.overridden = false
	}
	for key, style := range v.styles {
		r.original(key, style)
	}
	if v.table == nil {
		b.Add(dom.InsertHTML(r.container, dom.BeforeBegin, tableSkeleton))
	}
	if v.holding == nil {
		b.Add(dom.InsertHTML(r.container, dom.AfterEnd, holdingHTML))
	}
	r.saveContainer(v)
	b.Add(dom.SetStyle(r.container, "display", "none", true))

	r.table.records = append([]offers.Record(nil), d.Ordered...)
	r.table.favorite = favorite
	r.table.totalPages = totalPages(len(d.Ordered))
	r.table.page = clampPage(page, r.table.totalPages)

	// park every card before pulling the page in
	holding := dom.ByID(HoldingID)
	b.Add(
		dom.Move(dom.Within(dom.ByID(TableBodyID), "["+r.keyAttr+"]"), holding),
		dom.Move(dom.Within(r.container, "["+r.keyAttr+"]"), holding),
	)
	tp := r.planPageLocked(&b)
	return b, tp, nil
}

// PlanPage re-slices the records captured at the last table render. It
// reads nothing from the document.
func (r *Reconciler) PlanPage(page int) (dom.Batch, TablePage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.table == nil {
		return dom.Batch{}, TablePage{}, ErrNotTable
	}
	r.table.page = clampPage(page, r.table.totalPages)
	var b dom.Batch
	b.Add(dom.Move(dom.Within(dom.ByID(TableBodyID), "["+r.keyAttr+"]"), dom.ByID(HoldingID)))
	tp := r.planPageLocked(&b)
	return b, tp, nil
}

// planPageLocked rebuilds rows and pager for r.table.page. r.mu must be
// held and the current page's cards must already be parked.
func (r *Reconciler) planPageLocked(b *dom.Batch) TablePage {
	t := r.table
	start := (t.page - 1) * PageSize
	end := start + PageSize
	if start > len(t.records) {
		start = len(t.records)
	}
	if end > len(t.records) {
		end = len(t.records)
	}
	slice := t.records[start:end]

	var rows strings.Builder
	for _, rec := range slice {
		fav := t.favorite != nil && rec.Identified() && t.favorite(rec.MerchantKey)
		rows.WriteString(rowHTML(rec, fav))
	}
	body := dom.ByID(TableBodyID)
	b.Add(dom.RemoveChildren(body))
	if rows.Len() > 0 {
		b.Add(dom.InsertHTML(body, dom.BeforeEnd, rows.String()))
	}
	for _, rec := range slice {
		if rec.Key == "" {
			continue
		}
		sel := r.cardSel(rec.Key)
		b.Add(
			dom.SetStyleAttr(sel, overlayStyle(r.saved[rec.Key])),
			dom.Move(sel, dom.ByID(RowPrefix+rec.Key)),
		)
	}
	pager := dom.ByID(PagerID)
	b.Add(
		dom.RemoveChildren(pager),
		dom.InsertHTML(pager, dom.BeforeEnd, pagerHTML(t.page, t.totalPages, len(t.records))),
	)
	return TablePage{Page: t.page, TotalPages: t.totalPages, Shown: len(slice), Total: len(t.records)}
}

// PlanExit moves every card back into the container in its original order,
// restores all saved styles and removes the synthetic nodes.
func (r *Reconciler) PlanExit() dom.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.table == nil {
		return dom.Batch{}
	}
	var b dom.Batch
	for _, key := range r.table.original {
		b.Add(dom.Move(r.cardSel(key), r.container))
	}
	// cards rendered while the table was shown
	b.Add(
		dom.Move(dom.Within(dom.ByID(HoldingID), "["+r.keyAttr+"]"), r.container),
		dom.Move(dom.Within(dom.ByID(TableID), "["+r.keyAttr+"]"), r.container),
		dom.Remove(dom.ByID(TableID)),
		dom.Remove(dom.ByID(HoldingID)),
	)
	r.table = nil
	restore := r.planClearLocked()
	b.Add(restore.Ops...)
	return b
}

// EnterTable plans and commits the table view.
func (r *Reconciler) EnterTable(ctx context.Context, snap *html.Node, d offers.Decision, page int, favorite func(string) bool) (TablePage, error) {
	b, tp, err := r.PlanTable(snap, d, page, favorite)
	if err != nil {
		return TablePage{}, err
	}
	if err := r.Commit(ctx, b); err != nil {
		return TablePage{}, err
	}
	return tp, nil
}

// ShowPage plans and commits a table page change.
func (r *Reconciler) ShowPage(ctx context.Context, page int) (TablePage, error) {
	b, tp, err := r.PlanPage(page)
	if err != nil {
		return TablePage{}, err
	}
	if err := r.Commit(ctx, b); err != nil {
		return TablePage{}, err
	}
	return tp, nil
}

// ExitTable plans and commits the return to grid mode.
func (r *Reconciler) ExitTable(ctx context.Context) error {
	return r.Commit(ctx, r.PlanExit())
}

// Reset drops every override in either mode.
func (r *Reconciler) Reset(ctx context.Context) error {
	if r.Mode() == Table {
		return r.ExitTable(ctx)
	}
	r.mu.Lock()
	b := r.planClearLocked()
	r.mu.Unlock()
	return r.Commit(ctx, b)
}

// Current reports the table page state.
func (r *Reconciler) Current() (TablePage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.table == nil {
		return TablePage{}, false
	}
	t := r.table
	start := (t.page - 1) * PageSize
	shown := len(t.records) - start
	if shown > PageSize {
		shown = PageSize
	}
	if shown < 0 {
		shown = 0
	}
	return TablePage{Page: t.page, TotalPages: t.totalPages, Shown: shown, Total: len(t.records)}, true
}

const tableSkeleton = `<div id="` + TableID + `" class="offerlens-table" role="table" aria-label="Offers">` +
	`<div class="offerlens-table-head" role="row" style="display: grid; grid-template-columns: 2fr 1fr 1fr auto; font-weight: 600; padding: 8px 12px;">` +
	`<div role="columnheader">Merchant</div><div role="columnheader">Reward</div><div role="columnheader">Channels</div><div role="columnheader"></div>` +
	`</div>` +
	`<div id="` + TableBodyID + `" role="rowgroup"></div>` +
	`<div id="` + PagerID + `" class="offerlens-table-pager" style="display: flex; gap: 8px; justify-content: center; padding: 8px;"></div>` +
	`</div>`

const holdingHTML = `<div id="` + HoldingID + `" hidden aria-hidden="true" style="display: none !important;"></div>`

const rowStyle = "position: relative; display: grid; grid-template-columns: 2fr 1fr 1fr auto; align-items: center; padding: 8px 12px; border-bottom: 1px solid #ddd;"

func rowHTML(rec offers.Record, favorite bool) string {
	var chans []string
	for _, c := range rec.Channels.List() {
		chans = append(chans, string(c))
	}
	name := rec.MerchantName
	if name == "" {
		name = rec.MerchantKey
	}
	star := ""
	if favorite {
		star = `<span class="offerlens-favorite" aria-label="favorite">&#9733;</span> `
	}
	return fmt.Sprintf(`<div id="%s" class="offerlens-row" role="row" %s="%s" style="%s">`+
		`<div role="cell" class="offerlens-merchant">%s%s</div>`+
		`<div role="cell" class="offerlens-reward">%s</div>`+
		`<div role="cell" class="offerlens-channels">%s</div>`+
		`<div role="cell" class="offerlens-action"><span class="offerlens-button">View offer</span></div>`+
		`</div>`,
		html.EscapeString(RowPrefix+rec.Key), RowAttr, html.EscapeString(rec.Key), rowStyle,
		star, html.EscapeString(name),
		html.EscapeString(rec.RewardText),
		html.EscapeString(strings.Join(chans, ", ")),
	)
}

func pagerHTML(page, total, records int) string {
	return fmt.Sprintf(`<button type="button" data-offerlens-page="%d"%s>Previous</button>`+
		`<span class="offerlens-page-label">Page %d of %d (%d offers)</span>`+
		`<button type="button" data-offerlens-page="%d"%s>Next</button>`,
		page-1, disabledIf(page <= 1), page, total, records, page+1, disabledIf(page >= total))
}

func disabledIf(b bool) string {
	if b {
		return " disabled"
	}
	return ""
}
