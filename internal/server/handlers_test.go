package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"offerlens/internal/dom/memdoc"
	"offerlens/internal/paginate"
	"offerlens/internal/session"
)

func newTestServer(t *testing.T, attach bool, token string) *Server {
	t.Helper()
	holder := &session.Holder{}
	if attach {
		doc := memdoc.New(`<html><body><div data-testid="feed-tiles"></div></body></html>`)
		host := &memdoc.Host{Doc: doc, Container: `[data-testid="feed-tiles"]`, Card: `[data-testid^="feed-tile-"]`}
		if err := host.Seed(3); err != nil {
			t.Fatalf("Seed: %v", err)
		}
		ms := time.Millisecond
		sess, err := session.New(doc, host, session.Config{
			Paginate: paginate.Config{Floor: ms, Ceiling: 4 * ms, Initial: 2 * ms, Poll: ms, RetryBase: ms, MarkerPoll: ms},
			Logger:   zerolog.Nop(),
		})
		if err != nil {
			t.Fatalf("session.New: %v", err)
		}
		holder.Set(sess)
	}
	return New(Config{SitesDir: t.TempDir(), Token: token, Logger: zerolog.Nop()}, holder, nil)
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: body %q is not JSON: %v", method, target, rec.Body.String(), err)
	}
	return rec, out
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		attach  bool
		method  string
		target  string
		body    string
		status  int
		success bool
		field   string
		value   any
	}{
		{"sort", true, http.MethodPost, "/api/sort", `{"criteria":"reward","order":"asc"}`, 200, true, "cardsProcessed", 3.0},
		{"filter", true, http.MethodPost, "/api/filter", `{"favoritesOnly":false,"typeFilter":"multiplier"}`, 200, true, "visibleCount", 3.0},
		{"load all", true, http.MethodPost, "/api/load-all", ``, 200, true, "cardsLoaded", 3.0},
		{"view", true, http.MethodPost, "/api/view", `{"mode":"table"}`, 200, true, "cardsShown", 3.0},
		{"bad view", true, http.MethodPost, "/api/view", `{"mode":"list"}`, 200, false, "error", `unknown view mode "list"`},
		{"reset", true, http.MethodPost, "/api/reset", ``, 200, true, "", nil},
		{"progress", true, http.MethodGet, "/api/progress?op=sort", ``, 200, false, "active", false},
		{"bad progress", true, http.MethodGet, "/api/progress?op=view", ``, 400, false, "error", "op must be sort or filter"},
		{"unknown field", true, http.MethodPost, "/api/sort", `{"sortBy":"x"}`, 400, false, "", nil},
		{"wrong method", true, http.MethodGet, "/api/sort", ``, 405, false, "error", "method not allowed"},
		{"detached", false, http.MethodPost, "/api/sort", `{}`, 503, false, "error", "no offers page attached"},
		{"ping", false, http.MethodGet, "/ping", ``, 200, false, "attached", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, tc.attach, "")
			rec, out := do(t, s, tc.method, tc.target, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			if got, _ := out["success"].(bool); got != tc.success {
				t.Fatalf("success = %v, want %v (%s)", got, tc.success, rec.Body.String())
			}
			if tc.field != "" && out[tc.field] != tc.value {
				t.Fatalf("%s = %#v, want %#v", tc.field, out[tc.field], tc.value)
			}
		})
	}
}

func TestTokenRequired(t *testing.T) {
	s := newTestServer(t, true, "secret")
	rec, _ := do(t, s, http.MethodGet, "/api/progress", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", rr.Code)
	}
}

func TestSiteProfiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "example.com.json"), []byte(`{"container":"#offers","loadMoreText":["more deals"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	sites := NewSiteProfiles(dir)

	p := sites.Profile("https://offers.Example.com:8443/feed")
	if p.Container != "#offers" {
		t.Fatalf("container = %q, want override", p.Container)
	}
	if len(p.LoadMoreText) != 1 || p.LoadMoreText[0] != "more deals" {
		t.Fatalf("loadMoreText = %v", p.LoadMoreText)
	}
	if p.Card == "" {
		t.Fatalf("defaults lost in merge")
	}
	if sites.Find("https://other.org/") != nil {
		t.Fatalf("unexpected override for other.org")
	}
	if sites.Find("not a url") != nil {
		t.Fatalf("override for unparsable target")
	}
}
