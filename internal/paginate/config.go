// Package paginate drives the host page's load-more control until every card
// is rendered.
//
// A run has two halves that never share memory. The Driver stands in for the
// script living in the page's own realm: it clicks, waits and adapts its
// delay. The Orchestrator lives in the privileged context: it starts the run,
// watches for progress and result, and enforces the hard timeout. All they
// exchange are marker elements in the document.
package paginate

import "time"

// Config holds the timing constants of a run.
type Config struct {
	Floor   time.Duration
	Ceiling time.Duration
	Initial time.Duration
	// Poll is how often the driver counts cards while waiting after a click.
	Poll time.Duration

	FastThreshold time.Duration
	SlowThreshold time.Duration
	History       int

	RetryBase  time.Duration
	MaxRetries int
	// NoNewThreshold is the number of consecutive clicks without new cards
	// after which the list is considered complete.
	NoNewThreshold int

	Timeout    time.Duration
	MarkerPoll time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Floor:          300 * time.Millisecond,
		Ceiling:        3 * time.Second,
		Initial:        800 * time.Millisecond,
		Poll:           100 * time.Millisecond,
		FastThreshold:  600 * time.Millisecond,
		SlowThreshold:  1200 * time.Millisecond,
		History:        5,
		RetryBase:      500 * time.Millisecond,
		MaxRetries:     3,
		NoNewThreshold: 3,
		Timeout:        5 * time.Minute,
		MarkerPoll:     100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Floor <= 0 {
		c.Floor = def.Floor
	}
	if c.Ceiling <= 0 {
		c.Ceiling = def.Ceiling
	}
	if c.Ceiling < c.Floor {
		c.Ceiling = c.Floor
	}
	if c.Initial <= 0 {
		c.Initial = def.Initial
	}
	if c.Poll <= 0 {
		c.Poll = def.Poll
	}
	if c.FastThreshold <= 0 {
		c.FastThreshold = def.FastThreshold
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = def.SlowThreshold
	}
	if c.History <= 0 {
		c.History = def.History
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.NoNewThreshold <= 0 {
		c.NoNewThreshold = def.NoNewThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MarkerPoll <= 0 {
		c.MarkerPoll = def.MarkerPoll
	}
	return c
}
