package events

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"offerlens/internal/session"
)

func TestNotifyDropsWhenFull(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ch := h.Subscribe()
	for i := 0; i < subscriberBuffer+5; i++ {
		h.Notify(session.Event{Type: session.EventCompletion})
	}
	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("buffered = %d, want %d", got, subscriberBuffer)
	}
	if got := h.Dropped(); got != 5 {
		t.Fatalf("dropped = %d, want 5", got)
	}
	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	if h.Subscribers() != 0 {
		t.Fatalf("subscriber left behind")
	}
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	h := NewHub(zerolog.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	for h.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}
	h.Notify(session.Event{Type: session.EventSortPhaseStarted, Op: session.OpSort, Data: session.SortPhase{TotalCards: 42}})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	got := strings.Join(lines, "\n")
	want := "event: sort-phase-started\n" +
		`data: {"type":"sort-phase-started","op":"sort","data":{"totalCards":42}}`
	if got != want {
		t.Fatalf("stream = %q, want %q", got, want)
	}
}
