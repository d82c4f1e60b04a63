package paginate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"offerlens/internal/dom/memdoc"
)

const feedPage = `<html><body><div data-testid="feed-tiles"></div></body></html>`

func testConfig() Config {
	ms := time.Millisecond
	return Config{
		Floor:          5 * ms,
		Ceiling:        80 * ms,
		Initial:        40 * ms,
		Poll:           ms,
		FastThreshold:  10 * ms,
		SlowThreshold:  20 * ms,
		History:        5,
		RetryBase:      ms,
		MaxRetries:     3,
		NoNewThreshold: 3,
		Timeout:        5 * time.Second,
		MarkerPoll:     ms,
	}
}

func newHost(seed int, batches ...int) (*memdoc.Doc, *memdoc.Host) {
	doc := memdoc.New(feedPage)
	h := &memdoc.Host{
		Doc:       doc,
		Container: `[data-testid="feed-tiles"]`,
		Card:      `[data-testid^="feed-tile-"]`,
		Skeleton:  `.skeleton, [data-testid="feed-tile-skeleton"]`,
		Carousel:  `.carousel`,
		Batches:   batches,
		Latency:   2 * time.Millisecond,
		Button:    true,
	}
	if err := h.Seed(seed); err != nil {
		panic(err)
	}
	return doc, h
}

func newRun(cfg Config, doc *memdoc.Doc, h *memdoc.Host, cache *HandlerCache) *Orchestrator {
	drv := NewDriver(cfg, h, doc, cache, zerolog.Nop())
	return NewOrchestrator(cfg, doc, drv, zerolog.Nop())
}

func TestRunLoadsUntilNoNewCards(t *testing.T) {
	doc, h := newHost(12, 8)
	orch := newRun(testConfig(), doc, h, nil)

	var mu sync.Mutex
	var reports []Progress
	res, err := orch.Run(context.Background(), func(p Progress) {
		mu.Lock()
		reports = append(reports, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PagesLoaded != 1 || res.CardsLoaded != 20 || res.Aborted || res.TimedOut {
		t.Fatalf("result = %+v, want 1 page and 20 cards", res)
	}
	if n := doc.Count(h.Card); n != 20 {
		t.Fatalf("cards in document = %d, want 20", n)
	}
	total, _, dispatched := h.Clicks()
	if total != 4 || dispatched != 4 {
		t.Fatalf("clicks = %d (dispatched %d), want 1 productive + 3 empty", total, dispatched)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reports) != 1 || reports[0].CardsLoaded != 20 || reports[0].PagesLoaded != 1 {
		t.Fatalf("progress reports = %+v", reports)
	}
	for _, id := range []string{AbortMarkerID, ProgressMarkerID, ResultMarkerID} {
		if n := doc.Count("#" + id); n != 0 {
			t.Fatalf("marker %s left behind", id)
		}
	}
}

func TestRunWithoutButtonRetriesThenCompletes(t *testing.T) {
	doc, h := newHost(3)
	h.Button = false
	res, err := newRun(testConfig(), doc, h, nil).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PagesLoaded != 0 || res.CardsLoaded != 3 {
		t.Fatalf("result = %+v", res)
	}
	if total, _, _ := h.Clicks(); total != 0 {
		t.Fatalf("clicked %d times without a button", total)
	}
}

func TestRunPrefersFrameworkHandler(t *testing.T) {
	doc, h := newHost(4, 2, 2)
	h.HandlerKey = "__reactProps$abc"
	cache := &HandlerCache{}
	res, err := newRun(testConfig(), doc, h, cache).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PagesLoaded != 2 || res.CardsLoaded != 8 {
		t.Fatalf("result = %+v", res)
	}
	if _, invoked, dispatched := h.Clicks(); dispatched != 0 || invoked == 0 {
		t.Fatalf("invoked=%d dispatched=%d, want handler only", invoked, dispatched)
	}
	if cache.Key() != h.HandlerKey {
		t.Fatalf("handler key not cached: %q", cache.Key())
	}
}

func TestRunBridgeFailureResolvesWithZeroPages(t *testing.T) {
	doc, h := newHost(5, 5)
	h.InstallErr = errors.New("script blocked")
	res, err := newRun(testConfig(), doc, h, nil).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run returned %v, want a folded result", err)
	}
	if !res.BridgeError || res.PagesLoaded != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n := doc.Count("#" + AbortMarkerID); n != 0 {
		t.Fatalf("abort marker left behind")
	}
}

func TestRunTimeout(t *testing.T) {
	doc, h := newHost(1)
	cfg := testConfig()
	cfg.NoNewThreshold = 1 << 20
	cfg.Timeout = 60 * time.Millisecond
	res, err := newRun(cfg, doc, h, nil).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut || res.PagesLoaded != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n := doc.Count("#" + AbortMarkerID); n != 0 {
		t.Fatalf("abort marker left behind after timeout")
	}
}

func TestSecondRunIsRejectedAndCancelAborts(t *testing.T) {
	doc, h := newHost(1)
	cfg := testConfig()
	cfg.NoNewThreshold = 1 << 20
	orch := newRun(cfg, doc, h, nil)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := orch.Run(context.Background(), nil)
		done <- outcome{res, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for doc.Count("#"+AbortMarkerID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("run never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := orch.Run(context.Background(), nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Run error = %v, want ErrBusy", err)
	}
	if err := orch.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	select {
	case o := <-done:
		if o.err != nil || !o.res.Aborted {
			t.Fatalf("first run = %+v, %v; want aborted", o.res, o.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	if orch.Running() {
		t.Fatalf("orchestrator still running")
	}
}

func TestRunIgnoresSkeletonOnlyClicks(t *testing.T) {
	doc, h := newHost(4, 3)
	h.Render = func(n int) string {
		if n <= 4 {
			return memdoc.DefaultCard(n)
		}
		return `<div data-testid="feed-tile-skeleton" class="skeleton"></div>`
	}
	orch := newRun(testConfig(), doc, h, nil)

	res, err := orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PagesLoaded != 0 || res.CardsLoaded != 4 {
		t.Fatalf("result = %+v, want 0 pages and 4 cards", res)
	}
	if n := doc.Count(h.Card); n != 7 {
		t.Fatalf("card-like nodes = %d, want 4 cards and 3 placeholders", n)
	}
}
