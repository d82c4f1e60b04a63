package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"offerlens/internal/browser"
	"offerlens/internal/events"
	"offerlens/internal/server"
)

func main() {
	addrFlag := flag.String("addr", "", "listen address, e.g. :8081 or 127.0.0.1:8081")
	configFlag := flag.String("config", "", "config file (default ~/.config/offerlens/config.yml)")
	urlFlag := flag.String("url", "", "offers page to open on start")
	cdpFlag := flag.String("cdp", "", "DevTools websocket URL of an already running browser")
	profileFlag := flag.String("profile-dir", "", "browser user data directory")
	headlessFlag := flag.Bool("headless", false, "run the launched browser headless")
	flag.Parse()

	log := setupEnvironment()

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if env := os.Getenv("PORT"); env != "" {
		cfg.Addr = ":" + env
	}
	if *urlFlag != "" {
		cfg.URL = *urlFlag
	}
	if *cdpFlag != "" {
		cfg.CDPURL = *cdpFlag
	}
	if *profileFlag != "" {
		cfg.ProfileDir = *profileFlag
	}
	if *headlessFlag {
		cfg.Headless = true
	}
	if cfg.ConfigPath != "" {
		log.Debug().Str("path", cfg.ConfigPath).Msg("config loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("offerlens stopped")
	}
}

func run(ctx context.Context, cfg appConfig, log zerolog.Logger) error {
	b, err := browser.Open(ctx, browser.Config{
		CDPURL:      cfg.CDPURL,
		TargetMatch: cfg.TargetMatch,
		ProfileDir:  cfg.ProfileDir,
		Headless:    cfg.Headless,
		Logger:      log.With().Str("component", "browser").Logger(),
	})
	if err != nil {
		return err
	}
	defer b.Close()

	hub := events.NewHub(log.With().Str("component", "events").Logger())

	scfg := server.DefaultConfig()
	scfg.Logger = log.With().Str("component", "http").Logger()
	if cfg.SitesDir != "" {
		scfg.SitesDir = cfg.SitesDir
	}
	if cfg.Token != "" {
		scfg.Token = cfg.Token
	}
	pages := newPageLoop(b, cfg, hub, log.With().Str("component", "pages").Logger())
	srv := server.New(scfg, pages.holder, hub)
	pages.sites = srv.Sites()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// event streams and paginating exchanges outlive a write deadline
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     stdlog.New(log.With().Str("component", "http").Logger(), "", 0),
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	g.Go(func() error {
		return pages.run(gctx, strings.TrimSpace(cfg.URL))
	})
	return g.Wait()
}
