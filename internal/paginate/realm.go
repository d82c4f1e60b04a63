package paginate

import (
	"context"
	"sync"
)

// Realm is the set of primitives the driver needs from the page's own
// script realm. Every method may fail when the injected helper is gone; the
// driver treats any such failure as a broken bridge.
type Realm interface {
	// Install loads the helper script into the page realm.
	Install(ctx context.Context) error
	CountCards(ctx context.Context) (int, error)
	FindLoadMore(ctx context.Context) (bool, error)
	// ProbeHandler looks for the UI framework's click handler on the
	// load-more control and returns the property key it lives under.
	ProbeHandler(ctx context.Context) (string, error)
	// InvokeHandler calls the handler found under key. It reports false
	// when the control no longer exposes it.
	InvokeHandler(ctx context.Context, key string) (bool, error)
	// DispatchPointer clicks the control with a native pointer and mouse
	// event sequence at its centre, keeping the scroll position.
	DispatchPointer(ctx context.Context) error
}

// HandlerCache remembers the framework handler key for the life of a page.
// The key is stable once found, so it is kept per page rather than per run.
type HandlerCache struct {
	mu  sync.Mutex
	key string
}

func (c *HandlerCache) Key() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

func (c *HandlerCache) Remember(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.key = key
	c.mu.Unlock()
}

func (c *HandlerCache) Forget() { c.Remember("") }
