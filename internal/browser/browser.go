// Package browser binds offerlens to a Chrome tab over the DevTools
// protocol. Document operations run in an isolated world created on the main
// frame; pagination primitives run in the page's own main world.
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// Config selects how Chrome is reached.
type Config struct {
	// CDPURL attaches to a running Chrome (ws:// or http:// debugger URL).
	// When empty a Chrome is launched.
	CDPURL string
	// TargetMatch picks an existing tab whose URL contains it. Only used
	// with CDPURL.
	TargetMatch string
	// ProfileDir keeps the launched Chrome's user data (logins) across runs.
	ProfileDir string
	Headless   bool
	Logger     zerolog.Logger
}

// Browser owns the allocator and one tab.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	log         zerolog.Logger
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("hide-scrollbars", false),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1280, 900),
	)
	if cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
	}
	return opts
}

// Open starts or attaches to Chrome and selects a tab.
func Open(ctx context.Context, cfg Config) (*Browser, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.CDPURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.CDPURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	}
	logf := func(format string, args ...any) {
		cfg.Logger.Debug().Msgf("CDP "+format, args...)
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logf))
	if cfg.CDPURL != "" && cfg.TargetMatch != "" {
		// the first context only gives us a browser connection to list tabs
		if err := chromedp.Run(tabCtx); err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("browser: connect %s: %w", cfg.CDPURL, err)
		}
		targets, err := chromedp.Targets(tabCtx)
		if err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("browser: list targets: %w", err)
		}
		for _, t := range targets {
			if t.Type == "page" && strings.Contains(t.URL, cfg.TargetMatch) {
				tabCtx, cancel = chromedp.NewContext(tabCtx, chromedp.WithTargetID(t.TargetID))
				cfg.Logger.Info().Str("url", t.URL).Msg("BROWSER attached to tab")
				break
			}
		}
	}
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("browser: start: %w", err)
	}
	return &Browser{ctx: tabCtx, cancel: cancel, allocCancel: allocCancel, log: cfg.Logger}, nil
}

// Close closes the tab (launched Chrome exits with it).
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// run executes actions on the tab, cancelled by either ctx or the tab.
func run(tab, ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithCancel(tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(tctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the body.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.log.Info().Str("url", url).Msg("BROWSER navigate")
	return run(b.ctx, ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Location returns the URL of the tab's current document.
func (b *Browser) Location(ctx context.Context) (string, error) {
	var u string
	err := run(b.ctx, ctx, chromedp.Location(&u))
	return u, err
}

// WaitFor blocks until sel is in the document.
func (b *Browser) WaitFor(ctx context.Context, sel string) error {
	return run(b.ctx, ctx, chromedp.WaitReady(sel, chromedp.ByQuery))
}

// Navigations reports the URL of every main-frame navigation until ctx is
// done. A navigation that arrives while the previous one is unread replaces
// it.
func (b *Browser) Navigations(ctx context.Context) <-chan string {
	out := make(chan string, 1)
	lctx, cancel := context.WithCancel(b.ctx)
	context.AfterFunc(ctx, cancel)
	chromedp.ListenTarget(lctx, func(ev any) {
		e, ok := ev.(*page.EventFrameNavigated)
		if !ok || e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		for {
			select {
			case out <- e.Frame.URL:
				return
			default:
			}
			select {
			case <-out:
			default:
			}
		}
	})
	return out
}

// Attach prepares the current document of the tab: an isolated world for
// document work and the main world for pagination.
func (b *Browser) Attach(ctx context.Context, lp LoadMore) (*Page, *Realm, error) {
	p, err := attachPage(ctx, b.ctx, b.log)
	if err != nil {
		return nil, nil, err
	}
	return p, &Realm{tab: b.ctx, cfg: lp, log: b.log}, nil
}
