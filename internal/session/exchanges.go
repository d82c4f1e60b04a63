package session

import (
	"context"
	"fmt"

	"offerlens/internal/reconcile"
	"offerlens/offers"
)

// SortRequest is the sort exchange input.
type SortRequest struct {
	Criteria      string `json:"criteria"`
	Order         string `json:"order"`
	TypeFilter    string `json:"typeFilter,omitempty"`
	ChannelFilter string `json:"channelFilter,omitempty"`
}

type SortResult struct {
	Success        bool   `json:"success"`
	CardsProcessed int    `json:"cardsProcessed"`
	PagesLoaded    int    `json:"pagesLoaded"`
	Error          string `json:"error,omitempty"`
}

// FilterRequest is the filter exchange input.
type FilterRequest struct {
	FavoritesOnly bool   `json:"favoritesOnly"`
	TypeFilter    string `json:"typeFilter"`
	ChannelFilter string `json:"channelFilter"`
}

type FilterResult struct {
	Success          bool     `json:"success"`
	VisibleCount     int      `json:"visibleCount"`
	HiddenCount      int      `json:"hiddenCount"`
	MissingFavorites []string `json:"missingFavorites,omitempty"`
	Error            string   `json:"error,omitempty"`
}

type LoadResult struct {
	Success     bool   `json:"success"`
	CardsLoaded int    `json:"cardsLoaded"`
	PagesLoaded int    `json:"pagesLoaded"`
	Error       string `json:"error,omitempty"`
}

// ViewRequest switches between "grid" and "table".
type ViewRequest struct {
	Mode string `json:"mode"`
}

type ViewResult struct {
	Success    bool   `json:"success"`
	CardsShown int    `json:"cardsShown,omitempty"`
	Error      string `json:"error,omitempty"`
}

type TablePageResult struct {
	Success bool `json:"success"`
	reconcile.TablePage
	Error string `json:"error,omitempty"`
}

type ResetResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func parseFilters(typ, channel string) (offers.RewardKind, offers.Channel, error) {
	kind, ok := offers.ParseKind(typ)
	if !ok {
		return "", "", fmt.Errorf("unknown reward type %q", typ)
	}
	ch, ok := offers.ParseChannel(channel)
	if !ok {
		return "", "", fmt.Errorf("unknown channel %q", channel)
	}
	return kind, ch, nil
}

// Sort loads every page, then orders (and optionally filters) the cards.
func (s *Session) Sort(ctx context.Context, in SortRequest) SortResult {
	if !s.sortBusy.CompareAndSwap(false, true) {
		return SortResult{Error: ErrBusy.Error()}
	}
	defer s.sortBusy.Store(false)

	res := s.sort(ctx, in)
	s.complete(OpSort, res)
	return res
}

func (s *Session) sort(ctx context.Context, in SortRequest) SortResult {
	crit, ok := offers.ParseCriteria(in.Criteria)
	if !ok {
		return SortResult{Error: fmt.Sprintf("unknown sort criteria %q", in.Criteria)}
	}
	order, ok := offers.ParseOrder(crit, in.Order)
	if !ok {
		s.log.Warn().Str("criteria", string(crit)).Str("order", in.Order).
			Str("using", order.Reward.String()+"-"+order.Merchant.String()).Msg("SORT unrecognised order, using default")
	}
	kind, ch, err := parseFilters(in.TypeFilter, in.ChannelFilter)
	if err != nil {
		return SortResult{Error: err.Error()}
	}

	s.setProgress(OpSort, OpProgress{Active: true, Phase: "paginate"})
	pr, err := s.paginate(ctx, OpSort)
	if err != nil {
		return SortResult{PagesLoaded: pr.PagesLoaded, Error: errorMessage(err)}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	snap, recs, err := s.snapshot(ctx)
	if err != nil {
		return SortResult{PagesLoaded: pr.PagesLoaded, Error: errorMessage(err)}
	}
	s.setProgress(OpSort, OpProgress{Active: true, Progress: len(recs), Phase: "sort"})
	s.notify.Notify(Event{Type: EventSortPhaseStarted, Op: OpSort, Data: SortPhase{TotalCards: len(recs)}})

	req := s.request()
	req.Criteria = crit
	req.Order = order
	req.Filter.Kind = kind
	req.Filter.Channel = ch
	if req.Filter.FavoritesOnly {
		req.Filter.Favorites = s.favoriteSet(ctx)
	}
	d := s.engine.Reconcile(recs, req)
	if _, err := s.apply(ctx, snap, d, req.Active()); err != nil {
		return SortResult{PagesLoaded: pr.PagesLoaded, Error: errorMessage(err)}
	}
	s.setRequest(req)
	s.log.Info().Str("criteria", string(crit)).Int("cards", len(recs)).Int("hidden", d.HiddenCount).
		Int("pages", pr.PagesLoaded).Msg("SORT done")
	return SortResult{Success: true, CardsProcessed: len(recs), PagesLoaded: pr.PagesLoaded}
}

// Filter loads every page, then hides the cards that fail the request. The
// active sort order is kept.
func (s *Session) Filter(ctx context.Context, in FilterRequest) FilterResult {
	if !s.loadBusy.CompareAndSwap(false, true) {
		return FilterResult{Error: ErrBusy.Error()}
	}
	defer s.loadBusy.Store(false)

	res := s.filter(ctx, in)
	s.complete(OpFilter, res)
	return res
}

func (s *Session) filter(ctx context.Context, in FilterRequest) FilterResult {
	kind, ch, err := parseFilters(in.TypeFilter, in.ChannelFilter)
	if err != nil {
		return FilterResult{Error: err.Error()}
	}

	s.setProgress(OpFilter, OpProgress{Active: true, Phase: "paginate"})
	if _, err := s.paginate(ctx, OpFilter); err != nil {
		return FilterResult{Error: errorMessage(err)}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	snap, recs, err := s.snapshot(ctx)
	if err != nil {
		return FilterResult{Error: errorMessage(err)}
	}
	s.setProgress(OpFilter, OpProgress{Active: true, Progress: len(recs), Phase: "filter"})

	var favs []Favorite
	if in.FavoritesOnly {
		s.RefreshFavorites()
		favs, err = s.favs.Favorites(ctx)
		if err != nil {
			return FilterResult{Error: fmt.Sprintf("favorites unavailable: %v", err)}
		}
	}
	req := s.request()
	req.Filter = offers.Filter{
		FavoritesOnly: in.FavoritesOnly,
		Favorites:     keySet(favs),
		Kind:          kind,
		Channel:       ch,
	}
	d := s.engine.Reconcile(recs, req)
	if _, err := s.apply(ctx, snap, d, req.Active()); err != nil {
		return FilterResult{Error: errorMessage(err)}
	}
	s.setRequest(req)

	out := FilterResult{Success: true, VisibleCount: len(d.Ordered), HiddenCount: d.HiddenCount}
	if in.FavoritesOnly {
		out.MissingFavorites = missingFavorites(favs, recs)
	}
	s.log.Info().Int("visible", out.VisibleCount).Int("hidden", out.HiddenCount).
		Int("missing", len(out.MissingFavorites)).Msg("FILTER done")
	return out
}

// missingFavorites names every favorite with no loaded card, by display name
// when one is known.
func missingFavorites(favs []Favorite, recs []offers.Record) []string {
	present := make(map[string]bool, len(recs))
	for _, r := range recs {
		if r.Identified() {
			present[r.MerchantKey] = true
		}
	}
	var out []string
	seen := make(map[string]bool)
	for _, f := range favs {
		key := offers.NormalizeMerchantKey(f.Key)
		if key == "" || present[key] || seen[key] {
			continue
		}
		seen[key] = true
		name := f.Name
		if name == "" {
			name = key
		}
		out = append(out, name)
	}
	return out
}

// LoadAll paginates without sorting or filtering. Late cards still follow
// an active override through the coordinator hooks.
func (s *Session) LoadAll(ctx context.Context) LoadResult {
	if !s.loadBusy.CompareAndSwap(false, true) {
		return LoadResult{Error: ErrBusy.Error()}
	}
	defer s.loadBusy.Store(false)

	res := s.loadAll(ctx)
	s.complete(OpLoadAll, res)
	return res
}

func (s *Session) loadAll(ctx context.Context) LoadResult {
	pr, err := s.paginate(ctx, OpLoadAll)
	if err != nil {
		return LoadResult{PagesLoaded: pr.PagesLoaded, Error: errorMessage(err)}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, recs, err := s.snapshot(ctx)
	if err != nil {
		return LoadResult{PagesLoaded: pr.PagesLoaded, Error: errorMessage(err)}
	}
	s.log.Info().Int("cards", len(recs)).Int("pages", pr.PagesLoaded).Msg("LOAD done")
	return LoadResult{Success: true, CardsLoaded: len(recs), PagesLoaded: pr.PagesLoaded}
}

// SetViewMode switches between the grid and the table. Switching to the mode
// already shown re-renders it.
func (s *Session) SetViewMode(ctx context.Context, in ViewRequest) ViewResult {
	mode, ok := reconcile.ParseMode(in.Mode)
	if !ok {
		return ViewResult{Error: fmt.Sprintf("unknown view mode %q", in.Mode)}
	}
	if s.orch.Running() {
		return ViewResult{Error: ErrBusy.Error()}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if mode == reconcile.Grid && s.recon.Mode() == reconcile.Table {
		if err := s.recon.ExitTable(ctx); err != nil {
			return ViewResult{Error: errorMessage(err)}
		}
	}
	snap, recs, err := s.snapshot(ctx)
	if err != nil {
		return ViewResult{Error: errorMessage(err)}
	}
	req := s.request()
	if req.Filter.FavoritesOnly {
		req.Filter.Favorites = s.favoriteSet(ctx)
	}
	d := s.engine.Reconcile(recs, req)

	var shown int
	if mode == reconcile.Table {
		tp, err := s.recon.EnterTable(ctx, snap, d, 1, s.isFavorite(ctx))
		if err != nil {
			return ViewResult{Error: errorMessage(err)}
		}
		shown = tp.Shown
	} else {
		if err := s.recon.ApplyGrid(ctx, snap, d, req.Active()); err != nil {
			return ViewResult{Error: errorMessage(err)}
		}
		shown = len(d.Ordered)
	}
	s.log.Info().Str("mode", string(mode)).Int("shown", shown).Msg("VIEW switched")
	res := ViewResult{Success: true, CardsShown: shown}
	s.notify.Notify(Event{Type: EventCompletion, Op: OpView, Data: res})
	return res
}

// TablePage shows page n (1-based) of the table. It never paginates or
// re-extracts.
func (s *Session) TablePage(ctx context.Context, page int) TablePageResult {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tp, err := s.recon.ShowPage(ctx, page)
	if err != nil {
		return TablePageResult{Error: errorMessage(err)}
	}
	return TablePageResult{Success: true, TablePage: tp}
}

// Reset cancels a pagination run in flight and returns the page to its
// native layout.
func (s *Session) Reset(ctx context.Context) ResetResult {
	if s.orch.Running() {
		if err := s.orch.Cancel(ctx); err != nil {
			s.log.Warn().Err(err).Msg("SESSION cancel failed")
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.recon.Reset(ctx); err != nil {
		return ResetResult{Error: errorMessage(err)}
	}
	s.setRequest(offers.Request{})
	s.log.Info().Msg("SESSION reset")
	return ResetResult{Success: true}
}
