package watch

import (
	"context"

	"offerlens/internal/dom"
	"offerlens/offers"
)

// FavoriteMarkerName is the name of the favorite marker hook.
const FavoriteMarkerName = "favorite-marker"

// FavoriteMarker flags cards of favorite merchants with dom.FavoriteAttr.
type FavoriteMarker struct {
	KeyAttr   string
	Favorites func(ctx context.Context) map[string]bool
}

func (FavoriteMarker) Name() string { return FavoriteMarkerName }

func (f FavoriteMarker) NewCards(ctx context.Context, cards []Card) []dom.Op {
	if f.Favorites == nil {
		return nil
	}
	favs := f.Favorites(ctx)
	if len(favs) == 0 {
		return nil
	}
	keyAttr := f.KeyAttr
	if keyAttr == "" {
		keyAttr = offers.KeyAttr
	}
	var ops []dom.Op
	for _, c := range cards {
		if c.Record.Key != "" && c.Record.Identified() && favs[c.Record.MerchantKey] {
			ops = append(ops, dom.SetAttr(dom.ByAttr(keyAttr, c.Record.Key), dom.FavoriteAttr, "true"))
		}
	}
	return ops
}

// HookFunc adapts a function to Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, cards []Card) []dom.Op
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) NewCards(ctx context.Context, cards []Card) []dom.Op {
	return h.Fn(ctx, cards)
}
