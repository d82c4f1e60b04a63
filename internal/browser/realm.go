package browser

import (
	"context"
	_ "embed"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"offerlens/internal/paginate"
)

//go:embed js/realm.js
var realmJS string

// LoadMore tells the page-world script what to count and what to click.
type LoadMore struct {
	Card         string   `json:"card"`
	Skeleton     string   `json:"skeleton"`
	Carousel     string   `json:"carousel"`
	LoadMore     string   `json:"loadMore"`
	LoadMoreText []string `json:"loadMoreText"`
}

// Realm implements paginate.Realm in the tab's main world.
type Realm struct {
	tab context.Context
	cfg LoadMore
	log zerolog.Logger
}

var _ paginate.Realm = (*Realm)(nil)

func (r *Realm) eval(ctx context.Context, res any, fn string, args ...any) error {
	expr, err := call("window.__offerlensRealm", fn, args...)
	if err != nil {
		return err
	}
	return run(r.tab, ctx, chromedp.Evaluate(expr, res))
}

// Install loads the page-world script and hands it the selectors.
func (r *Realm) Install(ctx context.Context) error {
	var ok bool
	if err := run(r.tab, ctx, chromedp.Evaluate(realmJS, &ok)); err != nil {
		return err
	}
	return r.eval(ctx, &ok, "configure", r.cfg)
}

func (r *Realm) CountCards(ctx context.Context) (int, error) {
	var n int
	err := r.eval(ctx, &n, "count")
	return n, err
}

func (r *Realm) FindLoadMore(ctx context.Context) (bool, error) {
	var ok bool
	err := r.eval(ctx, &ok, "present")
	return ok, err
}

// ProbeHandler returns the framework props key carrying the control's
// click handler, or "" when the control exposes none.
func (r *Realm) ProbeHandler(ctx context.Context) (string, error) {
	var key string
	err := r.eval(ctx, &key, "probe")
	return key, err
}

func (r *Realm) InvokeHandler(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := r.eval(ctx, &ok, "invoke", key)
	return ok, err
}

// DispatchPointer fires the native pointer and mouse sequence at the
// control's centre, keeping the scroll offset.
func (r *Realm) DispatchPointer(ctx context.Context) error {
	var ok bool
	if err := r.eval(ctx, &ok, "dispatch"); err != nil {
		return err
	}
	if !ok {
		r.log.Debug().Msg("BROWSER load-more vanished before dispatch")
	}
	return nil
}
