package paginate

import "time"

// Tuner adapts the post-click wait to how fast the host page responds.
type Tuner struct {
	cfg      Config
	delay    time.Duration
	history  []time.Duration
	failures int
}

func NewTuner(cfg Config) *Tuner {
	cfg = cfg.withDefaults()
	t := &Tuner{cfg: cfg, delay: cfg.Initial}
	t.delay = t.clamp(t.delay)
	return t
}

// Delay is the current maximum wait after a click.
func (t *Tuner) Delay() time.Duration { return t.delay }

// Failures is the number of consecutive clicks that produced nothing.
func (t *Tuner) Failures() int { return t.failures }

// History returns the latency samples, oldest first.
func (t *Tuner) History() []time.Duration {
	return append([]time.Duration(nil), t.history...)
}

// Success records the click-to-new-card latency of a productive click.
func (t *Tuner) Success(latency time.Duration) {
	t.failures = 0
	t.history = append(t.history, latency)
	if len(t.history) > t.cfg.History {
		t.history = t.history[len(t.history)-t.cfg.History:]
	}
	avg := t.average()
	switch {
	case avg < t.cfg.FastThreshold:
		t.delay = t.delay * 3 / 4
	case avg < t.cfg.SlowThreshold:
		t.delay = t.delay * 88 / 100
	}
	t.delay = t.clamp(t.delay)
}

// Failure records a click that produced no new cards.
func (t *Tuner) Failure() {
	t.failures++
	switch t.failures {
	case 1:
		t.delay = t.delay * 16 / 10
	case 2:
		t.delay *= 2
	default:
		t.delay = t.cfg.Ceiling
	}
	t.delay = t.clamp(t.delay)
}

func (t *Tuner) average() time.Duration {
	if len(t.history) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.history {
		sum += d
	}
	return sum / time.Duration(len(t.history))
}

func (t *Tuner) clamp(d time.Duration) time.Duration {
	if d < t.cfg.Floor {
		return t.cfg.Floor
	}
	if d > t.cfg.Ceiling {
		return t.cfg.Ceiling
	}
	return d
}
