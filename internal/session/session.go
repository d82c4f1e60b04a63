// Package session owns the working state of one page load and implements the
// exchanges the popup sends: sort, filter, load-all, view mode, progress.
//
// A Session is built when the offers page finishes loading and dropped on
// the next main-frame navigation. Nothing outlives it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"offerlens/internal/dom"
	"offerlens/internal/paginate"
	"offerlens/internal/reconcile"
	"offerlens/internal/watch"
	"offerlens/offers"
)

// ErrBusy rejects an exchange while a conflicting one is in flight.
var ErrBusy = paginate.ErrBusy

// Operation names used by Progress and completion events.
const (
	OpSort    = "sort"
	OpFilter  = "filter"
	OpLoadAll = "load-all"
	OpView    = "view"
)

// Config wires a Session.
type Config struct {
	Profile   offers.Profile
	Paginate  paginate.Config
	Language  language.Tag
	Debounce  time.Duration
	Favorites FavoriteSource
	Notifier  Notifier
	Logger    zerolog.Logger
}

// OpProgress is the reconnect view of one operation. Progress counts cards:
// loaded so far while paginating, then the total once sorting starts.
type OpProgress struct {
	Active   bool   `json:"active"`
	Progress int    `json:"progress"`
	Phase    string `json:"phase,omitempty"`
}

// Session is the per-page state. The sort flag and the load/filter flag are
// independent; each rejects a second request instead of queueing it.
type Session struct {
	doc       dom.Document
	profile   offers.Profile
	container cascadia.Selector
	ex        *offers.Extractor
	cache     *offers.Cache
	engine    *offers.Engine
	orch      *paginate.Orchestrator
	recon     *reconcile.Reconciler
	coord     *watch.Coordinator
	favs      FavoriteSource
	notify    Notifier
	log       zerolog.Logger

	// life ends when Run returns; exchanges bound to it stop touching a
	// page that is gone.
	life context.Context
	end  context.CancelFunc

	sortBusy atomic.Bool
	loadBusy atomic.Bool

	// writeMu serialises snapshot-to-commit sequences of concurrent
	// exchanges.
	writeMu sync.Mutex

	mu       sync.Mutex
	progress map[string]OpProgress
	req      offers.Request
	favSet   map[string]bool
}

// New builds a session over doc, driving pagination through realm.
func New(doc dom.Document, realm paginate.Realm, cfg Config) (*Session, error) {
	prof := offers.DefaultProfile().Merge(cfg.Profile)
	ex, err := offers.NewExtractor(prof, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	sel, err := cascadia.Compile(prof.Container)
	if err != nil {
		return nil, fmt.Errorf("session: container selector %q: %w", prof.Container, err)
	}
	if cfg.Language == language.Und {
		cfg.Language = language.English
	}
	if cfg.Favorites == nil {
		cfg.Favorites = StaticFavorites(nil)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}

	cache := offers.NewCache()
	coord := watch.New(doc, ex, cache, watch.Config{
		Container: prof.Container,
		Stamp:     prof.Card,
		KeyAttr:   offers.KeyAttr,
		Debounce:  cfg.Debounce,
		Logger:    cfg.Logger,
	})
	recon, err := reconcile.New(doc, reconcile.Config{
		Container: prof.Container,
		KeyAttr:   offers.KeyAttr,
		Suspender: coord,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	driver := paginate.NewDriver(cfg.Paginate, realm, doc, &paginate.HandlerCache{}, cfg.Logger)

	life, end := context.WithCancel(context.Background())
	s := &Session{
		life:      life,
		end:       end,
		doc:       doc,
		profile:   prof,
		container: sel,
		ex:        ex,
		cache:     cache,
		engine:    offers.NewEngine(cfg.Language),
		orch:      paginate.NewOrchestrator(cfg.Paginate, doc, driver, cfg.Logger),
		recon:     recon,
		coord:     coord,
		favs:      cfg.Favorites,
		notify:    cfg.Notifier,
		log:       cfg.Logger,
		progress:  make(map[string]OpProgress),
	}
	coord.Register(watch.FavoriteMarker{Favorites: s.favoriteSet}, true)
	coord.Register(s.overrideKeeper(), true)
	return s, nil
}

// Run observes the page for host-rendered cards until ctx is done. The
// session is over once Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.end()
	return s.coord.Run(ctx)
}

// Bind returns a context for an exchange started under ctx. It ignores the
// cancellation of ctx but ends together with the session.
func (s *Session) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.life, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}

// Coordinator exposes the mutation coordinator, mainly so callers can toggle
// hooks.
func (s *Session) Coordinator() *watch.Coordinator { return s.coord }

// Mode reports the current view mode.
func (s *Session) Mode() reconcile.Mode { return s.recon.Mode() }

// Progress reports the state of op ("sort" or "filter").
func (s *Session) Progress(op string) OpProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[op]
}

func (s *Session) setProgress(op string, p OpProgress) {
	s.mu.Lock()
	s.progress[op] = p
	s.mu.Unlock()
}

func (s *Session) request() offers.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

func (s *Session) setRequest(r offers.Request) {
	s.mu.Lock()
	s.req = r
	s.mu.Unlock()
}

// favoriteSet returns the favorites as a merchant key set, loading them on
// first use.
func (s *Session) favoriteSet(ctx context.Context) map[string]bool {
	s.mu.Lock()
	set := s.favSet
	s.mu.Unlock()
	if set != nil {
		return set
	}
	favs, err := s.favs.Favorites(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("SESSION favorites unavailable")
		return nil
	}
	set = keySet(favs)
	s.mu.Lock()
	s.favSet = set
	s.mu.Unlock()
	return set
}

// RefreshFavorites drops the cached favorite set; the next use reloads it.
func (s *Session) RefreshFavorites() {
	s.mu.Lock()
	s.favSet = nil
	s.mu.Unlock()
}

// paginate loads every page with the coordinator suspended, then routes the
// cards the run produced through the hooks. Bridge failures and timeouts are
// already folded into the result; only ErrBusy and ctx errors come back.
func (s *Session) paginate(ctx context.Context, op string) (paginate.Result, error) {
	if err := s.coord.Suspend(ctx); err != nil {
		s.log.Warn().Err(err).Msg("SESSION suspend failed")
	}
	res, err := s.orch.Run(ctx, func(p paginate.Progress) {
		s.setProgress(op, OpProgress{Active: true, Progress: p.CardsLoaded, Phase: "paginate"})
		s.notify.Notify(Event{Type: EventPaginationProgress, Data: p})
	})
	if rerr := s.coord.Resume(ctx); rerr != nil {
		s.log.Warn().Err(rerr).Msg("SESSION resume failed")
	}
	if err != nil {
		return res, err
	}
	if res.BridgeError {
		s.log.Error().Str("op", op).Msg("SESSION pagination bridge failed; continuing with rendered cards")
	}
	return res, nil
}

// snapshot reads every card the session can see and extracts it. The
// coordinator gets the chance to catch up on cards it has not processed.
func (s *Session) snapshot(ctx context.Context) (*html.Node, []offers.Record, error) {
	snap, err := s.doc.Snapshot(ctx, dom.SnapshotRequest{
		Roots:   s.recon.Roots(),
		Stamp:   s.profile.Card,
		KeyAttr: offers.KeyAttr,
	})
	if err != nil {
		return nil, nil, err
	}
	if cascadia.Query(snap, s.container) == nil {
		return nil, nil, offers.ErrContainerNotFound
	}
	if n := s.coord.Scan(ctx, snap); n > 0 {
		s.log.Debug().Int("cards", n).Msg("SESSION scanned cards")
	}
	recs := s.ex.ExtractAll(snap, s.cache)
	if len(recs) == 0 {
		return nil, nil, offers.ErrNoCards
	}
	return snap, s.recon.InPageOrder(recs), nil
}

// apply renders decision d in the current view mode and returns how many
// cards are shown.
func (s *Session) apply(ctx context.Context, snap *html.Node, d offers.Decision, active bool) (int, error) {
	if s.recon.Mode() == reconcile.Table {
		tp, err := s.recon.EnterTable(ctx, snap, d, 1, s.isFavorite(ctx))
		if err != nil {
			return 0, err
		}
		return tp.Shown, nil
	}
	if err := s.recon.ApplyGrid(ctx, snap, d, active); err != nil {
		return 0, err
	}
	return len(d.Ordered), nil
}

func (s *Session) isFavorite(ctx context.Context) func(string) bool {
	set := s.favoriteSet(ctx)
	return func(key string) bool { return set[key] }
}

// complete publishes the completion event of op.
func (s *Session) complete(op string, result any) {
	s.setProgress(op, OpProgress{})
	s.notify.Notify(Event{Type: EventCompletion, Op: op, Data: result})
}

// errorMessage renders err for a result object.
func errorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "operation cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	}
	return err.Error()
}
