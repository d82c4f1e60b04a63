package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"offerlens/internal/dom"
	"offerlens/internal/dom/memdoc"
	"offerlens/internal/paginate"
	"offerlens/internal/reconcile"
	"offerlens/offers"
)

const feed = `[data-testid="feed-tiles"]`

func pageConfig() paginate.Config {
	ms := time.Millisecond
	return paginate.Config{
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

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	doc    *memdoc.Doc
	host   *memdoc.Host
	events *recorder
	s      *Session
}

func newFixture(t *testing.T, body string, seed int, button bool, batches []int, favs ...Favorite) *fixture {
	t.Helper()
	doc := memdoc.New(`<html><body>` + body + `</body></html>`)
	host := &memdoc.Host{
		Doc:       doc,
		Container: feed,
		Card:      offers.DefaultProfile().Card,
		Skeleton:  offers.DefaultProfile().Skeleton,
		Carousel:  offers.DefaultProfile().Carousel,
		Batches:   batches,
		Latency:   2 * time.Millisecond,
		Button:    button,
	}
	if err := host.Seed(seed); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	rec := &recorder{}
	s, err := New(doc, host, Config{
		Paginate:  pageConfig(),
		Favorites: StaticFavorites(favs),
		Notifier:  rec,
		Debounce:  5 * time.Millisecond,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{doc: doc, host: host, events: rec, s: s}
}

const emptyFeed = `<div data-testid="feed-tiles"></div>`

func (f *fixture) order(n int) string {
	v, _ := f.doc.Attr(`[data-testid="feed-tile-`+strconv.Itoa(n)+`"]`, dom.OrderAttr)
	return v
}

func TestSortLoadsEveryPageFirst(t *testing.T) {
	f := newFixture(t, emptyFeed, 12, true, []int{8})
	res := f.s.Sort(context.Background(), SortRequest{Criteria: "reward", Order: "desc"})
	want := SortResult{Success: true, CardsProcessed: 20, PagesLoaded: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("Sort result (-want +got):\n%s", diff)
	}
	// 9X miles: cards 8 and 17, page order breaks the tie
	if got := f.order(8); got != "0" {
		t.Fatalf("card 8 order = %q, want 0", got)
	}
	if got := f.order(17); got != "1" {
		t.Fatalf("card 17 order = %q, want 1", got)
	}
	// 1X miles: cards 9 and 18 close the list
	if got := f.order(18); got != "19" {
		t.Fatalf("card 18 order = %q, want 19", got)
	}

	phase := f.events.ofType(EventSortPhaseStarted)
	if len(phase) != 1 || phase[0].Data != (SortPhase{TotalCards: 20}) {
		t.Fatalf("sort-phase-started = %+v", phase)
	}
	if len(f.events.ofType(EventPaginationProgress)) == 0 {
		t.Fatalf("no pagination progress events")
	}
	done := f.events.ofType(EventCompletion)
	if len(done) != 1 || done[0].Op != OpSort || done[0].Data != res {
		t.Fatalf("completion = %+v", done)
	}
	if p := f.s.Progress(OpSort); p.Active {
		t.Fatalf("sort still active after completion: %+v", p)
	}
}

func TestSecondSortIsRejected(t *testing.T) {
	f := newFixture(t, emptyFeed, 12, true, []int{8})
	f.host.Latency = 20 * time.Millisecond

	first := make(chan SortResult, 1)
	go func() {
		first <- f.s.Sort(context.Background(), SortRequest{Criteria: "reward", Order: "desc"})
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !f.s.Progress(OpSort).Active {
		if time.Now().After(deadline) {
			t.Fatalf("first sort never started")
		}
		time.Sleep(time.Millisecond)
	}

	second := f.s.Sort(context.Background(), SortRequest{Criteria: "merchant", Order: "asc"})
	if second.Success || second.Error != "operation already in progress" {
		t.Fatalf("second sort = %+v, want rejection", second)
	}
	if res := <-first; !res.Success || res.CardsProcessed != 20 {
		t.Fatalf("first sort = %+v", res)
	}
}

func TestFilterReportsMissingFavorites(t *testing.T) {
	f := newFixture(t, emptyFeed, 4, false, nil, Favorite{Key: "x.com", Name: "X"})
	res := f.s.Filter(context.Background(), FilterRequest{FavoritesOnly: true})
	want := FilterResult{Success: true, VisibleCount: 0, HiddenCount: 4, MissingFavorites: []string{"X"}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("Filter result (-want +got):\n%s", diff)
	}
	for _, n := range []int{1, 2, 3, 4} {
		style, _ := f.doc.Attr(`[data-testid="feed-tile-`+strconv.Itoa(n)+`"]`, "style")
		if v, imp, ok := dom.Declaration(style, "display"); !ok || v != "none" || !imp {
			t.Fatalf("card %d style %q, want hidden", n, style)
		}
	}
}

func TestFilterFavoritesPresent(t *testing.T) {
	f := newFixture(t, emptyFeed, 4, false, nil,
		Favorite{Key: "M2.example.com", Name: "Two"},
		Favorite{Key: "gone.example.com"},
	)
	res := f.s.Filter(context.Background(), FilterRequest{FavoritesOnly: true})
	want := FilterResult{Success: true, VisibleCount: 1, HiddenCount: 3, MissingFavorites: []string{"gone.example.com"}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("Filter result (-want +got):\n%s", diff)
	}
	if got := f.order(2); got != "0" {
		t.Fatalf("favorite card order = %q, want 0", got)
	}
}

func TestExchangeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		seed int
		run  func(*Session) string
		want string
	}{
		{
			name: "container missing",
			body: `<div id="elsewhere"></div>`,
			run: func(s *Session) string {
				return s.Sort(context.Background(), SortRequest{Criteria: "reward"}).Error
			},
			want: offers.ErrContainerNotFound.Error(),
		},
		{
			name: "empty container",
			body: emptyFeed,
			run: func(s *Session) string {
				return s.Filter(context.Background(), FilterRequest{TypeFilter: "static"}).Error
			},
			want: offers.ErrNoCards.Error(),
		},
		{
			name: "unknown criteria",
			body: emptyFeed,
			seed: 2,
			run: func(s *Session) string {
				return s.Sort(context.Background(), SortRequest{Criteria: "colour"}).Error
			},
			want: `unknown sort criteria "colour"`,
		},
		{
			name: "unknown channel",
			body: emptyFeed,
			seed: 2,
			run: func(s *Session) string {
				return s.Filter(context.Background(), FilterRequest{ChannelFilter: "mail"}).Error
			},
			want: `unknown channel "mail"`,
		},
		{
			name: "unknown view",
			body: emptyFeed,
			seed: 2,
			run: func(s *Session) string {
				return s.SetViewMode(context.Background(), ViewRequest{Mode: "list"}).Error
			},
			want: `unknown view mode "list"`,
		},
		{
			name: "page outside table",
			body: emptyFeed,
			seed: 2,
			run: func(s *Session) string {
				return s.TablePage(context.Background(), 2).Error
			},
			want: reconcile.ErrNotTable.Error(),
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.body, tc.seed, false, nil)
			if got := tc.run(f.s); got != tc.want {
				t.Fatalf("error = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTableViewRoundTrip(t *testing.T) {
	f := newFixture(t, emptyFeed, 23, false, nil)
	ctx := context.Background()

	if res := f.s.SetViewMode(ctx, ViewRequest{Mode: "table"}); !res.Success || res.CardsShown != 10 {
		t.Fatalf("table view = %+v", res)
	}
	if f.s.Mode() != reconcile.Table {
		t.Fatalf("mode = %s", f.s.Mode())
	}
	if n := f.doc.Count(dom.Within(dom.ByID(reconcile.TableBodyID), feedCard)); n != 10 {
		t.Fatalf("cards in table = %d, want 10", n)
	}

	pg := f.s.TablePage(ctx, 3)
	if !pg.Success || pg.Page != 3 || pg.Shown != 3 || pg.TotalPages != 3 {
		t.Fatalf("page 3 = %+v", pg)
	}

	if res := f.s.SetViewMode(ctx, ViewRequest{Mode: "grid"}); !res.Success || res.CardsShown != 23 {
		t.Fatalf("grid view = %+v", res)
	}
	if n := f.doc.Count("#" + reconcile.TableID); n != 0 {
		t.Fatalf("table left behind")
	}
	if n := f.doc.Count(dom.Within(feed, feedCard)); n != 23 {
		t.Fatalf("cards back in container = %d, want 23", n)
	}
	first := f.doc.Query(dom.Within(feed, feedCard))[0]
	if got := offers.GetAttr(first, "data-testid"); got != "feed-tile-1" {
		t.Fatalf("first card after exit = %s, want original order", got)
	}
}

const feedCard = `[data-testid^="feed-tile-"]`

func (f *fixture) tableIDs() []string {
	var ids []string
	for _, n := range f.doc.Query(dom.Within(dom.ByID(reconcile.TableBodyID), feedCard)) {
		ids = append(ids, strings.TrimPrefix(offers.GetAttr(n, "data-testid"), "feed-tile-"))
	}
	return ids
}

func TestTableSortRepeatsFromAnyPage(t *testing.T) {
	f := newFixture(t, emptyFeed, 23, false, nil)
	ctx := context.Background()
	if res := f.s.SetViewMode(ctx, ViewRequest{Mode: "table"}); !res.Success {
		t.Fatalf("table view = %+v", res)
	}
	req := SortRequest{Criteria: "reward", Order: "desc"}
	if res := f.s.Sort(ctx, req); !res.Success {
		t.Fatalf("Sort = %+v", res)
	}
	first := f.tableIDs()
	if len(first) != 10 {
		t.Fatalf("page 1 = %v", first)
	}

	if pg := f.s.TablePage(ctx, 2); !pg.Success || pg.Page != 2 {
		t.Fatalf("page 2 = %+v", pg)
	}
	if res := f.s.Sort(ctx, req); !res.Success {
		t.Fatalf("second Sort = %+v", res)
	}
	if diff := cmp.Diff(first, f.tableIDs()); diff != "" {
		t.Fatalf("page 1 after re-sort (-want +got):\n%s", diff)
	}
}

func TestTableFilterKeepsPageOrder(t *testing.T) {
	f := newFixture(t, emptyFeed, 23, false, nil)
	ctx := context.Background()
	if res := f.s.SetViewMode(ctx, ViewRequest{Mode: "table"}); !res.Success {
		t.Fatalf("table view = %+v", res)
	}
	if pg := f.s.TablePage(ctx, 2); !pg.Success {
		t.Fatalf("page 2 = %+v", pg)
	}
	if res := f.s.Filter(ctx, FilterRequest{}); !res.Success {
		t.Fatalf("Filter = %+v", res)
	}
	want := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	if diff := cmp.Diff(want, f.tableIDs()); diff != "" {
		t.Fatalf("page 1 after filter (-want +got):\n%s", diff)
	}
}

func TestLoadAllKeepsActiveSort(t *testing.T) {
	f := newFixture(t, emptyFeed, 5, false, []int{3})
	ctx := context.Background()
	if res := f.s.Sort(ctx, SortRequest{Criteria: "reward", Order: "desc"}); !res.Success || res.PagesLoaded != 0 {
		t.Fatalf("Sort = %+v", res)
	}

	f.host.SetButton(true)
	res := f.s.LoadAll(ctx)
	if diff := cmp.Diff(LoadResult{Success: true, CardsLoaded: 8, PagesLoaded: 1}, res); diff != "" {
		t.Fatalf("LoadAll (-want +got):\n%s", diff)
	}
	got := map[string]bool{}
	for _, n := range []int{6, 7, 8} {
		o := f.order(n)
		if o == "" {
			t.Fatalf("late card %d has no order", n)
		}
		got[o] = true
	}
	if diff := cmp.Diff(map[string]bool{"5": true, "6": true, "7": true}, got); diff != "" {
		t.Fatalf("late orders (-want +got):\n%s", diff)
	}
}

func TestResetRestoresNativeLayout(t *testing.T) {
	f := newFixture(t, emptyFeed, 6, false, nil)
	ctx := context.Background()
	if res := f.s.Sort(ctx, SortRequest{Criteria: "merchant", Order: "desc", TypeFilter: "static"}); !res.Success {
		t.Fatalf("Sort = %+v", res)
	}
	if _, ok := f.doc.Attr(feed, "style"); !ok {
		t.Fatalf("container not forced into grid")
	}
	if res := f.s.Reset(ctx); !res.Success {
		t.Fatalf("Reset = %+v", res)
	}
	if n := f.doc.Count("[" + dom.OrderAttr + "]"); n != 0 {
		t.Fatalf("%d cards keep an order after reset", n)
	}
	if _, ok := f.doc.Attr(feed, "style"); ok {
		t.Fatalf("container style not restored")
	}
	for n := 1; n <= 6; n++ {
		if _, ok := f.doc.Attr(`[data-testid="feed-tile-`+strconv.Itoa(n)+`"]`, "style"); ok {
			t.Fatalf("card %d keeps an inline style", n)
		}
	}
}

func TestHolder(t *testing.T) {
	var h Holder
	if h.Current() != nil {
		t.Fatalf("empty holder returned a session")
	}
	a := newFixture(t, emptyFeed, 1, false, nil).s
	b := newFixture(t, emptyFeed, 1, false, nil).s
	if prev := h.Set(a); prev != nil {
		t.Fatalf("first Set replaced %p", prev)
	}
	if prev := h.Set(b); prev != a {
		t.Fatalf("second Set did not return the first session")
	}
	if h.Current() != b {
		t.Fatalf("Current is not the latest session")
	}
}

func TestBoundContextEndsWithSession(t *testing.T) {
	f := newFixture(t, emptyFeed, 3, false, nil)
	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(runCtx) }()

	reqCtx, closeReq := context.WithCancel(context.Background())
	bound, release := f.s.Bind(reqCtx)
	defer release()

	closeReq()
	select {
	case <-bound.Done():
		t.Fatal("bound context ended with the request")
	case <-time.After(20 * time.Millisecond):
	}

	stop()
	select {
	case <-bound.Done():
	case <-time.After(time.Second):
		t.Fatal("bound context outlived the session")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
