package watch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"offerlens/internal/dom"
	"offerlens/internal/dom/memdoc"
	"offerlens/offers"
)

const feed = `[data-testid="feed-tiles"]`

func card(n int) string {
	return memdoc.DefaultCard(n)
}

type harness struct {
	doc    *memdoc.Doc
	coord  *Coordinator
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, favorites map[string]bool) *harness {
	t.Helper()
	doc := memdoc.New(`<html><body><div data-testid="feed-tiles">` + card(1) + `</div><div id="elsewhere"></div></body></html>`)
	ex, err := offers.NewExtractor(offers.DefaultProfile(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	c := New(doc, ex, offers.NewCache(), Config{
		Container: feed,
		Stamp:     offers.DefaultProfile().Card,
		Debounce:  10 * time.Millisecond,
		Logger:    zerolog.Nop(),
	})
	c.Register(FavoriteMarker{Favorites: func(context.Context) map[string]bool { return favorites }}, true)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{doc: doc, coord: c, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- c.Run(ctx) }()
	waitFor(t, "observer", c.Observing)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func favoriteSet(doc *memdoc.Doc, testid string) bool {
	v, _ := doc.Attr(`[data-testid="`+testid+`"]`, dom.FavoriteAttr)
	return v == "true"
}

func TestHostInsertedCardsReachHooks(t *testing.T) {
	h := start(t, map[string]bool{"m2.example.com": true})
	if err := h.doc.HostInsert(feed, dom.BeforeEnd, card(2)+card(3)); err != nil {
		t.Fatalf("HostInsert: %v", err)
	}
	waitFor(t, "two cards", func() bool { return h.coord.Seen() == 2 })
	waitFor(t, "favorite mark", func() bool { return favoriteSet(h.doc, "feed-tile-2") })
	if favoriteSet(h.doc, "feed-tile-3") {
		t.Fatalf("non-favorite card marked")
	}
}

func TestSuspendIgnoresOwnWrites(t *testing.T) {
	h := start(t, nil)
	ctx := context.Background()
	if err := h.coord.Suspend(ctx); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	_ = h.coord.Suspend(ctx) // nested
	_ = h.doc.Apply(ctx, dom.Batch{Ops: []dom.Op{dom.InsertHTML(feed, dom.BeforeEnd, card(5))}})
	_ = h.coord.Resume(ctx)
	if !h.coord.Suspended() {
		t.Fatalf("nested suspend resumed early")
	}
	time.Sleep(50 * time.Millisecond)
	if n := h.coord.Seen(); n != 0 {
		t.Fatalf("suspended coordinator saw %d cards", n)
	}
	_ = h.coord.Resume(ctx)
	if err := h.doc.HostInsert(feed, dom.BeforeEnd, card(6)); err != nil {
		t.Fatalf("HostInsert: %v", err)
	}
	waitFor(t, "card after resume", func() bool { return h.coord.Seen() == 1 })
}

func TestDisableIsIndependentOfSuspend(t *testing.T) {
	h := start(t, map[string]bool{"m7.example.com": true, "m8.example.com": true})
	ctx := context.Background()
	if !h.coord.Disable(FavoriteMarkerName) {
		t.Fatalf("hook not registered")
	}
	_ = h.coord.Suspend(ctx)
	_ = h.coord.Resume(ctx)
	if h.coord.Enabled(FavoriteMarkerName) {
		t.Fatalf("resume re-enabled a disabled hook")
	}
	_ = h.doc.HostInsert(feed, dom.BeforeEnd, card(7))
	waitFor(t, "card routed", func() bool { return h.coord.Seen() == 1 })
	time.Sleep(30 * time.Millisecond)
	if favoriteSet(h.doc, "feed-tile-7") {
		t.Fatalf("disabled hook wrote a mark")
	}
	h.coord.Enable(FavoriteMarkerName)
	_ = h.doc.HostInsert(feed, dom.BeforeEnd, card(8))
	waitFor(t, "favorite mark", func() bool { return favoriteSet(h.doc, "feed-tile-8") })
}

func TestProcessedAndExcludedCardsAreSkipped(t *testing.T) {
	h := start(t, nil)
	ctx := context.Background()
	_ = h.doc.HostInsert(feed, dom.BeforeEnd, card(9))
	waitFor(t, "first card", func() bool { return h.coord.Seen() == 1 })

	// moving a processed card back in is not a new card
	_ = h.doc.Apply(ctx, dom.Batch{Ops: []dom.Op{dom.Move(`[data-testid="feed-tile-9"]`, feed)}})
	_ = h.doc.HostInsert(feed, dom.BeforeEnd, `<div data-testid="feed-tile-skeleton" class="skeleton"></div>`)
	_ = h.doc.HostInsert(feed, dom.BeforeEnd, `<div data-testid="offers-carousel">`+card(10)+`</div>`)
	time.Sleep(50 * time.Millisecond)
	if n := h.coord.Seen(); n != 1 {
		t.Fatalf("seen = %d, want 1", n)
	}
}

func TestScanCatchesUpAfterBulkWork(t *testing.T) {
	h := start(t, map[string]bool{"m1.example.com": true})
	ctx := context.Background()
	snap, err := h.doc.Snapshot(ctx, dom.SnapshotRequest{Roots: []string{feed}, Stamp: offers.DefaultProfile().Card, KeyAttr: offers.KeyAttr})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if n := h.coord.Scan(ctx, snap); n != 1 {
		t.Fatalf("Scan = %d, want 1", n)
	}
	if !favoriteSet(h.doc, "feed-tile-1") {
		t.Fatalf("seeded favorite not marked by scan")
	}
	if n := h.coord.Scan(ctx, snap); n != 0 {
		t.Fatalf("second Scan = %d, want 0", n)
	}
}
