package paginate

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"offerlens/internal/dom"
)

// Marker element ids. The abort marker exists for exactly as long as a run
// may continue; removing it is how a run is cancelled.
const (
	AbortMarkerID    = "offerlens-pagination-active"
	ProgressMarkerID = "offerlens-pagination-progress"
	ResultMarkerID   = "offerlens-pagination-result"
)

const (
	attrRun     = "data-run"
	attrTS      = "data-ts"
	attrCards   = "data-cards"
	attrPages   = "data-pages"
	attrAborted = "data-aborted"
)

// ErrBridge reports that the page-realm half could not be loaded or stopped
// answering.
var ErrBridge = errors.New("cross-context bridge failure")

// ErrBusy is returned when a run is already in flight.
var ErrBusy = errors.New("operation already in progress")

func markerHTML(id string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<div id="`)
	b.WriteString(html.EscapeString(id))
	b.WriteString(`" hidden aria-hidden="true"`)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(attrs[k]))
		b.WriteString(`"`)
	}
	b.WriteString(`></div>`)
	return b.String()
}

// writeMarker creates the marker or updates its attributes in place.
func writeMarker(ctx context.Context, doc dom.Document, id string, attrs map[string]string) error {
	_, ok, err := doc.Marker(ctx, id)
	if err != nil {
		return err
	}
	var b dom.Batch
	if !ok {
		b.Add(dom.InsertHTML("body", dom.BeforeEnd, markerHTML(id, attrs)))
	} else {
		// data-ts last so a reader never sees a new stamp with old counts
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			if k != attrTS {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.Add(dom.SetAttr(dom.ByID(id), k, attrs[k]))
		}
		if ts, ok := attrs[attrTS]; ok {
			b.Add(dom.SetAttr(dom.ByID(id), attrTS, ts))
		}
	}
	return doc.Apply(ctx, b)
}

func removeMarkers(ctx context.Context, doc dom.Document, ids ...string) error {
	var b dom.Batch
	for _, id := range ids {
		b.Add(dom.Remove(dom.ByID(id)))
	}
	return doc.Apply(ctx, b)
}

// Progress is one progress report of a run.
type Progress struct {
	CardsLoaded int   `json:"cardsLoaded"`
	PagesLoaded int   `json:"pagesLoaded"`
	TS          int64 `json:"-"`
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func progressFromAttrs(attrs map[string]string) Progress {
	ts, _ := strconv.ParseInt(strings.TrimSpace(attrs[attrTS]), 10, 64)
	return Progress{
		CardsLoaded: atoi(attrs[attrCards]),
		PagesLoaded: atoi(attrs[attrPages]),
		TS:          ts,
	}
}

// progressGate passes a report only when its timestamp advances.
type progressGate struct {
	last int64
}

func (g *progressGate) admit(p Progress) bool {
	if p.TS <= g.last {
		return false
	}
	g.last = p.TS
	return true
}
