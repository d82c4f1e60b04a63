package server

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"offerlens/internal/session"
)

const defaultSitesDir = "config/sites"

// Config describes server wiring and runtime behaviour.
type Config struct {
	SitesDir string
	// Token, when set, must be presented as a bearer token on /api routes.
	Token  string
	Logger zerolog.Logger
	Clock  func() time.Time
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		Logger:   zerolog.Nop(),
		Clock:    time.Now,
		SitesDir: strings.TrimSpace(os.Getenv("OFFERLENS_SITES_DIR")),
		Token:    strings.TrimSpace(os.Getenv("OFFERLENS_TOKEN")),
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	return cfg
}

// Server exposes the exchanges of the current page session over HTTP.
type Server struct {
	cfg      Config
	mux      *http.ServeMux
	handler  http.Handler
	log      zerolog.Logger
	sessions *session.Holder
	events   http.Handler
	sites    *SiteProfiles
	clock    func() time.Time
	started  time.Time
}

// New wires a server answering for whatever session sessions holds. events
// serves the notification stream; nil disables it.
func New(cfg Config, sessions *session.Holder, events http.Handler) *Server {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		log:      cfg.Logger,
		sessions: sessions,
		events:   events,
		sites:    NewSiteProfiles(cfg.SitesDir),
		clock:    cfg.Clock,
	}
	s.started = s.clock()
	s.registerRoutes()
	s.handler = withLogging(s.log, s.mux)
	return s
}

// Sites returns the per-host profile store.
func (s *Server) Sites() *SiteProfiles { return s.sites }

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/ping", s.handlePing)
	s.mux.Handle("/api/sort", s.api(http.MethodPost, s.handleSort))
	s.mux.Handle("/api/filter", s.api(http.MethodPost, s.handleFilter))
	s.mux.Handle("/api/load-all", s.api(http.MethodPost, s.handleLoadAll))
	s.mux.Handle("/api/view", s.api(http.MethodPost, s.handleView))
	s.mux.Handle("/api/table/page", s.api(http.MethodPost, s.handleTablePage))
	s.mux.Handle("/api/reset", s.api(http.MethodPost, s.handleReset))
	s.mux.Handle("/api/progress", s.api(http.MethodGet, s.handleProgress))
	s.mux.Handle("/api/profile", s.api(http.MethodGet, s.handleProfile))
	if s.events != nil {
		s.mux.Handle("/api/events", s.auth(s.events))
	}
}
