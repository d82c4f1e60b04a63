package server

import (
	"context"
	"net/http"
	"time"

	"offerlens/internal/session"
)

// auth rejects requests without the configured token.
func (s *Server) auth(next http.Handler) http.Handler {
	if s.cfg.Token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatches(s.cfg.Token, bearer(r)) {
			writeFailure(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) api(method string, h http.HandlerFunc) http.Handler {
	return s.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}))
}

// current returns the live session or answers 503.
func (s *Server) current(w http.ResponseWriter) *session.Session {
	sess := s.sessions.Current()
	if sess == nil {
		writeFailure(w, http.StatusServiceUnavailable, "no offers page attached")
	}
	return sess
}

// detach keeps an exchange running when the popup closes, where the outcome
// is still published as a completion event, and stops it when the page
// session ends.
func detach(r *http.Request, sess *session.Session) (context.Context, context.CancelFunc) {
	return sess.Bind(r.Context())
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"attached": s.sessions.Current() != nil,
		"uptime":   s.clock().Sub(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	var in session.SortRequest
	if err := decodeJSON(r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.current(w)
	if sess == nil {
		return
	}
	ctx, cancel := detach(r, sess)
	defer cancel()
	writeJSON(w, http.StatusOK, sess.Sort(ctx, in))
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var in session.FilterRequest
	if err := decodeJSON(r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.current(w)
	if sess == nil {
		return
	}
	ctx, cancel := detach(r, sess)
	defer cancel()
	writeJSON(w, http.StatusOK, sess.Filter(ctx, in))
}

func (s *Server) handleLoadAll(w http.ResponseWriter, r *http.Request) {
	sess := s.current(w)
	if sess == nil {
		return
	}
	ctx, cancel := detach(r, sess)
	defer cancel()
	writeJSON(w, http.StatusOK, sess.LoadAll(ctx))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var in session.ViewRequest
	if err := decodeJSON(r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.current(w)
	if sess == nil {
		return
	}
	ctx, cancel := detach(r, sess)
	defer cancel()
	writeJSON(w, http.StatusOK, sess.SetViewMode(ctx, in))
}

type pageRequest struct {
	Page int `json:"page"`
}

func (s *Server) handleTablePage(w http.ResponseWriter, r *http.Request) {
	var in pageRequest
	if err := decodeJSON(r, &in); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.current(w)
	if sess == nil {
		return
	}
	ctx, cancel := detach(r, sess)
	defer cancel()
	writeJSON(w, http.StatusOK, sess.TablePage(ctx, in.Page))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := s.current(w)
	if sess == nil {
		return
	}
	ctx, cancel := detach(r, sess)
	defer cancel()
	writeJSON(w, http.StatusOK, sess.Reset(ctx))
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sess := s.current(w)
	if sess == nil {
		return
	}
	switch op := r.URL.Query().Get("op"); op {
	case session.OpSort, session.OpFilter:
		writeJSON(w, http.StatusOK, sess.Progress(op))
	case "":
		writeJSON(w, http.StatusOK, map[string]session.OpProgress{
			session.OpSort:   sess.Progress(session.OpSort),
			session.OpFilter: sess.Progress(session.OpFilter),
		})
	default:
		writeFailure(w, http.StatusBadRequest, "op must be sort or filter")
	}
}

// handleProfile shows the selector profile that applies to a URL.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	target := firstNonEmpty(r.URL.Query().Get("url"), r.URL.Query().Get("u"))
	if target == "" {
		writeFailure(w, http.StatusBadRequest, "missing url")
		return
	}
	writeJSON(w, http.StatusOK, s.sites.Profile(target))
}
