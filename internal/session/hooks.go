package session

import (
	"context"

	"offerlens/internal/dom"
	"offerlens/internal/reconcile"
	"offerlens/internal/watch"
	"offerlens/offers"
)

// OverrideKeeperName names the hook that applies an active sort or filter to
// cards the host renders later.
const OverrideKeeperName = "override-keeper"

func (s *Session) overrideKeeper() watch.Hook {
	return watch.HookFunc{
		HookName: OverrideKeeperName,
		Fn: func(ctx context.Context, cards []watch.Card) []dom.Op {
			req := s.request()
			if !req.Active() {
				return nil
			}
			if req.Filter.FavoritesOnly {
				req.Filter.Favorites = s.favoriteSet(ctx)
			}
			late := make([]reconcile.Late, 0, len(cards))
			for _, c := range cards {
				late = append(late, reconcile.Late{
					Record:  c.Record,
					Style:   offers.GetAttr(c.Node, "style"),
					Visible: req.Filter.Match(c.Record),
				})
			}
			return s.recon.PlanLate(late)
		},
	}
}
