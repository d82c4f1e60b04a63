package paginate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"offerlens/internal/dom"
)

// Result is the outcome of a run. Failures other than ErrBusy and caller
// cancellation are folded into it rather than returned.
type Result struct {
	PagesLoaded int  `json:"pagesLoaded"`
	CardsLoaded int  `json:"cardsLoaded"`
	Aborted     bool `json:"aborted,omitempty"`
	TimedOut    bool `json:"timedOut,omitempty"`
	BridgeError bool `json:"bridgeError,omitempty"`
}

// Orchestrator is the privileged half of a run.
type Orchestrator struct {
	cfg     Config
	doc     dom.Document
	driver  *Driver
	log     zerolog.Logger
	running atomic.Bool
	newID   func() string
}

// NewOrchestrator returns an orchestrator signalling through doc and running
// driver as the page-realm half.
func NewOrchestrator(cfg Config, doc dom.Document, driver *Driver, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		doc:    doc,
		driver: driver,
		log:    log,
		newID:  uuid.NewString,
	}
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Cancel removes the abort marker. The driver notices at the top of its next
// iteration and resolves the run with the pages loaded so far.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	return removeMarkers(ctx, o.doc, AbortMarkerID)
}

// Run paginates until the driver reports completion, the hard timeout
// passes, or ctx is cancelled. onProgress, when set, receives every progress
// report whose timestamp advances; it is called from a run goroutine.
func (o *Orchestrator) Run(ctx context.Context, onProgress func(Progress)) (Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer o.running.Store(false)

	runID := o.newID()
	if err := removeMarkers(ctx, o.doc, AbortMarkerID, ProgressMarkerID, ResultMarkerID); err != nil {
		return Result{}, fmt.Errorf("paginate: clear markers: %w", err)
	}
	if err := writeMarker(ctx, o.doc, AbortMarkerID, map[string]string{attrRun: runID}); err != nil {
		return Result{}, fmt.Errorf("paginate: write abort marker: %w", err)
	}
	o.log.Info().Str("run", runID).Msg("PAGINATE start")

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var (
		res  Result
		last Progress
	)
	g.Go(func() error {
		return o.driver.Run(gctx, runID)
	})
	g.Go(func() error {
		r, err := o.watch(gctx, runID, func(p Progress) {
			last = p
			if onProgress != nil {
				onProgress(p)
			}
		})
		res = r
		return err
	})
	err := g.Wait()

	cleanCtx, cleanCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cleanCancel()
	if cerr := removeMarkers(cleanCtx, o.doc, AbortMarkerID, ProgressMarkerID, ResultMarkerID); cerr != nil {
		o.log.Warn().Err(cerr).Str("run", runID).Msg("PAGINATE marker cleanup failed")
	}

	switch {
	case err == nil:
		o.log.Info().Str("run", runID).Int("pages", res.PagesLoaded).Int("cards", res.CardsLoaded).Msg("PAGINATE done")
		return res, nil
	case errors.Is(err, ErrBridge):
		o.log.Error().Err(err).Str("run", runID).Msg("PAGINATE bridge failure")
		return Result{BridgeError: true}, nil
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		o.log.Warn().Str("run", runID).Dur("timeout", o.cfg.Timeout).Int("pages", last.PagesLoaded).Msg("PAGINATE timeout")
		return Result{PagesLoaded: last.PagesLoaded, CardsLoaded: last.CardsLoaded, TimedOut: true}, nil
	default:
		return Result{PagesLoaded: last.PagesLoaded, CardsLoaded: last.CardsLoaded}, err
	}
}

// watch polls the markers until the result marker of runID appears.
func (o *Orchestrator) watch(ctx context.Context, runID string, forward func(Progress)) (Result, error) {
	var gate progressGate
	ticker := time.NewTicker(o.cfg.MarkerPoll)
	defer ticker.Stop()
	for {
		if attrs, ok, err := o.doc.Marker(ctx, ProgressMarkerID); err != nil {
			o.log.Debug().Err(err).Msg("PAGINATE progress read failed")
		} else if ok && attrs[attrRun] == runID {
			if p := progressFromAttrs(attrs); gate.admit(p) {
				forward(p)
			}
		}
		if attrs, ok, err := o.doc.Marker(ctx, ResultMarkerID); err != nil {
			o.log.Debug().Err(err).Msg("PAGINATE result read failed")
		} else if ok && attrs[attrRun] == runID {
			return Result{
				PagesLoaded: atoi(attrs[attrPages]),
				CardsLoaded: atoi(attrs[attrCards]),
				Aborted:     attrs[attrAborted] == "1",
			}, nil
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
