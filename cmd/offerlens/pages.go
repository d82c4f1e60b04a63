package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"offerlens/internal/browser"
	"offerlens/internal/events"
	"offerlens/internal/paginate"
	"offerlens/internal/server"
	"offerlens/internal/session"
)

// pageLoop owns the session of the tab's current document. Every main-frame
// navigation tears the session down and attaches a fresh one.
type pageLoop struct {
	b      *browser.Browser
	cfg    appConfig
	hub    *events.Hub
	sites  *server.SiteProfiles
	holder *session.Holder
	log    zerolog.Logger
	lang   language.Tag
}

func newPageLoop(b *browser.Browser, cfg appConfig, hub *events.Hub, log zerolog.Logger) *pageLoop {
	lang, err := language.Parse(cfg.Language)
	if err != nil {
		log.Warn().Err(err).Str("language", cfg.Language).Msg("unknown language, using en")
		lang = language.English
	}
	return &pageLoop{b: b, cfg: cfg, hub: hub, holder: &session.Holder{}, log: log, lang: lang}
}

func (p *pageLoop) run(ctx context.Context, start string) error {
	navs := p.b.Navigations(ctx)
	if start != "" {
		if err := p.b.Navigate(ctx, start); err != nil {
			return err
		}
	}
	current, err := p.b.Location(ctx)
	if err != nil {
		return err
	}

	for {
		pctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func(u string) {
			defer close(done)
			p.attach(pctx, u)
		}(current)

		select {
		case <-ctx.Done():
			cancel()
			<-done
			p.holder.Set(nil)
			return nil
		case u, ok := <-navs:
			cancel()
			<-done
			if prev := p.holder.Set(nil); prev != nil {
				p.log.Debug().Str("url", u).Msg("session detached")
			}
			if !ok {
				return nil
			}
			current = u
		}
	}
}

// attach waits for the offers container, binds a session to the page and
// runs its coordinator until ctx ends.
func (p *pageLoop) attach(ctx context.Context, u string) {
	prof := p.sites.Profile(u)
	log := p.log.With().Str("url", u).Logger()

	wctx, cancel := context.WithTimeout(ctx, p.cfg.AttachWait)
	err := p.b.WaitFor(wctx, prof.Container)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Msg("no offers container")
		}
		return
	}

	page, realm, err := p.b.Attach(ctx, browser.LoadMore{
		Card:         prof.Card,
		Skeleton:     prof.Skeleton,
		Carousel:     prof.Carousel,
		LoadMore:     prof.LoadMore,
		LoadMoreText: prof.LoadMoreText,
	})
	if err != nil {
		log.Warn().Err(err).Msg("attach failed")
		return
	}

	sess, err := session.New(page, realm, session.Config{
		Profile:   prof,
		Paginate:  p.cfg.Paginate.apply(paginate.DefaultConfig()),
		Language:  p.lang,
		Debounce:  p.cfg.Debounce,
		Favorites: session.StaticFavorites(p.cfg.Favorites),
		Notifier:  p.hub,
		Logger:    log,
	})
	if err != nil {
		log.Warn().Err(err).Msg("session setup failed")
		return
	}
	p.holder.Set(sess)
	log.Info().Msg("session attached")

	start := time.Now()
	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("session stopped")
	}
	log.Debug().Dur("took", time.Since(start)).Msg("session ended")
}
