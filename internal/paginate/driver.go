package paginate

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"offerlens/internal/dom"
)

// State is the bookkeeping of one run. It is discarded when the run ends.
type State struct {
	Attempt     int
	Retries     int
	PagesLoaded int
	CardsLoaded int
	Tuner       *Tuner
}

// Driver is the page-realm half of a run.
type Driver struct {
	cfg      Config
	realm    Realm
	doc      dom.Document
	handlers *HandlerCache
	log      zerolog.Logger
	now      func() time.Time
	lastTS   int64
}

// NewDriver returns a driver clicking through realm and signalling through
// doc. handlers may be shared across runs of the same page.
func NewDriver(cfg Config, realm Realm, doc dom.Document, handlers *HandlerCache, log zerolog.Logger) *Driver {
	if handlers == nil {
		handlers = &HandlerCache{}
	}
	return &Driver{
		cfg:      cfg.withDefaults(),
		realm:    realm,
		doc:      doc,
		handlers: handlers,
		log:      log,
		now:      time.Now,
	}
}

func bridgeErr(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %v", ErrBridge, what, err)
}

// Run executes the state machine until a terminal condition. It returns nil
// once the result marker is written, or after an abort.
func (d *Driver) Run(ctx context.Context, runID string) error {
	if err := d.realm.Install(ctx); err != nil {
		return bridgeErr(ctx, "install", err)
	}
	st := &State{Tuner: NewTuner(d.cfg)}
	if n, err := d.realm.CountCards(ctx); err == nil {
		st.CardsLoaded = n
	} else {
		return bridgeErr(ctx, "count", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		active, err := d.active(ctx, runID)
		if err != nil {
			return err
		}
		if !active {
			d.log.Info().Str("run", runID).Int("pages", st.PagesLoaded).Msg("PAGINATE aborted")
			return d.finish(ctx, runID, st, true)
		}

		found, err := d.realm.FindLoadMore(ctx)
		if err != nil {
			return bridgeErr(ctx, "find", err)
		}
		if !found {
			if st.Retries < d.cfg.MaxRetries {
				backoff := time.Duration(float64(d.cfg.RetryBase) * math.Pow(1.5, float64(st.Retries)))
				st.Retries++
				d.log.Debug().Int("retry", st.Retries).Dur("backoff", backoff).Msg("PAGINATE button not found")
				if err := sleep(ctx, backoff); err != nil {
					return err
				}
				continue
			}
			d.log.Info().Str("run", runID).Int("pages", st.PagesLoaded).Msg("PAGINATE complete: no button")
			return d.finish(ctx, runID, st, false)
		}
		st.Retries = 0

		before, err := d.realm.CountCards(ctx)
		if err != nil {
			return bridgeErr(ctx, "count", err)
		}
		st.Attempt++
		if err := d.click(ctx); err != nil {
			return err
		}
		after, latency, err := d.wait(ctx, before, st.Tuner.Delay())
		if err != nil {
			return err
		}
		st.CardsLoaded = after
		if after > before {
			st.PagesLoaded++
			st.Tuner.Success(latency)
			d.log.Debug().Int("attempt", st.Attempt).Int("cards", after).Dur("latency", latency).Dur("delay", st.Tuner.Delay()).Msg("PAGINATE page loaded")
			if err := d.progress(ctx, runID, st); err != nil {
				return err
			}
			continue
		}
		st.Tuner.Failure()
		d.log.Debug().Int("attempt", st.Attempt).Int("failures", st.Tuner.Failures()).Dur("delay", st.Tuner.Delay()).Msg("PAGINATE no new cards")
		if st.Tuner.Failures() >= d.cfg.NoNewThreshold {
			d.log.Info().Str("run", runID).Int("pages", st.PagesLoaded).Int("cards", st.CardsLoaded).Msg("PAGINATE complete")
			return d.finish(ctx, runID, st, false)
		}
	}
}

func (d *Driver) active(ctx context.Context, runID string) (bool, error) {
	attrs, ok, err := d.doc.Marker(ctx, AbortMarkerID)
	if err != nil {
		return false, bridgeErr(ctx, "abort marker", err)
	}
	return ok && attrs[attrRun] == runID, nil
}

// click tries the framework handler first and falls back to native events.
func (d *Driver) click(ctx context.Context) error {
	if key := d.handlers.Key(); key != "" {
		ok, err := d.realm.InvokeHandler(ctx, key)
		if err != nil {
			return bridgeErr(ctx, "invoke", err)
		}
		if ok {
			return nil
		}
	} else {
		key, err := d.realm.ProbeHandler(ctx)
		if err != nil {
			return bridgeErr(ctx, "probe", err)
		}
		if key != "" {
			ok, err := d.realm.InvokeHandler(ctx, key)
			if err != nil {
				return bridgeErr(ctx, "invoke", err)
			}
			if ok {
				d.handlers.Remember(key)
				d.log.Debug().Str("key", key).Msg("PAGINATE framework handler found")
				return nil
			}
		}
	}
	if err := d.realm.DispatchPointer(ctx); err != nil {
		return bridgeErr(ctx, "dispatch", err)
	}
	return nil
}

// wait polls the card count until new cards show up, but never returns
// before the floor, and gives up after limit. The latency returned is the time
// at which new cards were first seen.
func (d *Driver) wait(ctx context.Context, before int, limit time.Duration) (int, time.Duration, error) {
	start := d.now()
	ticker := time.NewTicker(d.cfg.Poll)
	defer ticker.Stop()
	seen := time.Duration(-1)
	for {
		select {
		case <-ctx.Done():
			return before, 0, ctx.Err()
		case <-ticker.C:
		}
		n, err := d.realm.CountCards(ctx)
		if err != nil {
			return before, 0, bridgeErr(ctx, "count", err)
		}
		elapsed := d.now().Sub(start)
		if n > before && seen < 0 {
			seen = elapsed
		}
		if seen >= 0 && elapsed >= d.cfg.Floor {
			return n, seen, nil
		}
		if elapsed >= limit {
			if seen < 0 {
				seen = elapsed
			}
			return n, seen, nil
		}
	}
}

func (d *Driver) stamp() int64 {
	ts := d.now().UnixMilli()
	if ts <= d.lastTS {
		ts = d.lastTS + 1
	}
	d.lastTS = ts
	return ts
}

func (d *Driver) progress(ctx context.Context, runID string, st *State) error {
	err := writeMarker(ctx, d.doc, ProgressMarkerID, map[string]string{
		attrRun:   runID,
		attrCards: strconv.Itoa(st.CardsLoaded),
		attrPages: strconv.Itoa(st.PagesLoaded),
		attrTS:    strconv.FormatInt(d.stamp(), 10),
	})
	if err != nil {
		return bridgeErr(ctx, "progress marker", err)
	}
	return nil
}

func (d *Driver) finish(ctx context.Context, runID string, st *State, aborted bool) error {
	attrs := map[string]string{
		attrRun:   runID,
		attrCards: strconv.Itoa(st.CardsLoaded),
		attrPages: strconv.Itoa(st.PagesLoaded),
	}
	if aborted {
		attrs[attrAborted] = "1"
	}
	if err := writeMarker(ctx, d.doc, ResultMarkerID, attrs); err != nil {
		return bridgeErr(ctx, "result marker", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
