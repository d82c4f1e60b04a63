package session

import (
	"context"
	"sync"

	"offerlens/offers"
)

// Event types.
const (
	EventPaginationProgress = "pagination-progress"
	EventSortPhaseStarted   = "sort-phase-started"
	EventCompletion         = "completion"
)

// Event is an unsolicited notification. Data is one of paginate.Progress,
// SortPhase or an exchange result.
type Event struct {
	Type string `json:"type"`
	Op   string `json:"op,omitempty"`
	Data any    `json:"data"`
}

// SortPhase is the payload of EventSortPhaseStarted.
type SortPhase struct {
	TotalCards int `json:"totalCards"`
}

// Notifier receives events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Favorite is one saved favorite merchant.
type Favorite struct {
	Key  string `json:"key" mapstructure:"key"`
	Name string `json:"name" mapstructure:"name"`
}

// FavoriteSource supplies the user's favorites. The store behind it is
// someone else's concern.
type FavoriteSource interface {
	Favorites(ctx context.Context) ([]Favorite, error)
}

// StaticFavorites is a fixed favorite list, typically from configuration.
type StaticFavorites []Favorite

func (f StaticFavorites) Favorites(context.Context) ([]Favorite, error) {
	return []Favorite(f), nil
}

func keySet(favs []Favorite) map[string]bool {
	set := make(map[string]bool, len(favs))
	for _, f := range favs {
		if k := offers.NormalizeMerchantKey(f.Key); k != "" {
			set[k] = true
		}
	}
	return set
}

// Holder tracks the session of the page currently loaded. It is replaced on
// every navigation.
type Holder struct {
	mu  sync.RWMutex
	cur *Session
}

// Set installs s, returning the session it replaces.
func (h *Holder) Set(s *Session) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.cur
	h.cur = s
	return prev
}

// Current returns the live session, or nil between pages.
func (h *Holder) Current() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}
