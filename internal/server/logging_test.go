package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRequestLogMasksToken(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	h := withLogging(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events?token=s3cret&op=sort", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "s3cret") {
		t.Fatalf("token leaked into log: %s", out)
	}
	if !strings.Contains(out, "token=REDACTED") || !strings.Contains(out, "op=sort") {
		t.Fatalf("request line missing query: %s", out)
	}
}
