package offers

import (
	"sync"

	"golang.org/x/net/html"
)

// Cache remembers extracted records by card key for the life of one page.
// It is an optimisation only: entries are dropped by Sweep as soon as their
// card disappears from a snapshot, and any record can be rebuilt from its node.
type Cache struct {
	mu        sync.Mutex
	records   map[string]Record
	processed map[string]struct{}
}

func NewCache() *Cache {
	return &Cache{
		records:   make(map[string]Record),
		processed: make(map[string]struct{}),
	}
}

func (c *Cache) Lookup(key string) (Record, bool) {
	if key == "" {
		return Record{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[key]
	return r, ok
}

func (c *Cache) Store(r Record) {
	if r.Key == "" {
		return
	}
	c.mu.Lock()
	c.records[r.Key] = r
	c.mu.Unlock()
}

// MarkProcessed flags key as handled by the new-card pipeline. It returns
// false when the key was already flagged.
func (c *Cache) MarkProcessed(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.processed[key]; ok {
		return false
	}
	c.processed[key] = struct{}{}
	return true
}

func (c *Cache) Processed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.processed[key]
	return ok
}

// Sweep evicts every entry whose key is not in live and returns how many
// were dropped.
func (c *Cache) Sweep(live map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k := range c.records {
		if _, ok := live[k]; !ok {
			delete(c.records, k)
			dropped++
		}
	}
	for k := range c.processed {
		if _, ok := live[k]; !ok {
			delete(c.processed, k)
		}
	}
	return dropped
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// ExtractAll extracts every card below root, reusing cached records for
// cards that are still present, and sweeps entries for detached cards.
func (e *Extractor) ExtractAll(root *html.Node, cache *Cache) []Record {
	cards := e.Cards(root)
	out := make([]Record, 0, len(cards))
	live := make(map[string]struct{}, len(cards))
	for _, n := range cards {
		key := getAttr(n, KeyAttr)
		if key != "" {
			live[key] = struct{}{}
		}
		if cache != nil {
			if r, ok := cache.Lookup(key); ok {
				out = append(out, r)
				continue
			}
		}
		r := e.Extract(n)
		if cache != nil {
			cache.Store(r)
		}
		out = append(out, r)
	}
	if cache != nil {
		if n := cache.Sweep(live); n > 0 {
			e.log.Debug().Int("evicted", n).Msg("EXTRACT cache sweep")
		}
	}
	return out
}
