package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"offerlens/internal/dom"
)

// DrainInterval is how often queued insertions are pulled from the world.
const DrainInterval = 50 * time.Millisecond

type observeArgs struct {
	Target  string `json:"target"`
	Stamp   string `json:"stamp"`
	KeyAttr string `json:"keyAttr"`
}

type observation struct {
	p      *Page
	id     string
	out    chan dom.Mutation
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	paused atomic.Bool
}

// Observe implements dom.Document. A MutationObserver in the isolated world
// queues inserted elements; a goroutine drains the queue.
func (p *Page) Observe(ctx context.Context, req dom.ObserveRequest) (dom.Observation, error) {
	id := fmt.Sprintf("obs-%d", p.nextObs.Add(1))
	var ok bool
	if err := p.callWorld(ctx, &ok, "observe", id, observeArgs{Target: req.Target, Stamp: req.Stamp, KeyAttr: req.KeyAttr}); err != nil {
		return nil, fmt.Errorf("browser: observe: %w", err)
	}
	octx, cancel := context.WithCancel(ctx)
	o := &observation{
		p:      p,
		id:     id,
		out:    make(chan dom.Mutation),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go o.pump(octx)
	return o, nil
}

func (o *observation) pump(ctx context.Context) {
	defer close(o.done)
	defer close(o.out)
	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var parts []string
		if err := o.p.callWorld(ctx, &parts, "drain", o.id); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.p.log.Debug().Err(err).Str("observer", o.id).Msg("BROWSER drain failed")
			continue
		}
		if parts == nil {
			// world gone: the document was replaced
			o.p.log.Debug().Str("observer", o.id).Msg("BROWSER observer lost")
			return
		}
		if len(parts) == 0 || o.paused.Load() {
			continue
		}
		nodes, err := parseFragments(parts)
		if err != nil {
			o.p.log.Warn().Err(err).Msg("BROWSER inserted markup unparsable")
			continue
		}
		select {
		case o.out <- dom.Mutation{Added: nodes}:
		case <-ctx.Done():
			return
		}
	}
}

func (o *observation) Events() <-chan dom.Mutation { return o.out }

func (o *observation) Pause(ctx context.Context) error {
	o.paused.Store(true)
	var ok bool
	return o.p.callWorld(ctx, &ok, "pause", o.id)
}

func (o *observation) Resume(ctx context.Context) error {
	var ok bool
	if err := o.p.callWorld(ctx, &ok, "resume", o.id); err != nil {
		return err
	}
	o.paused.Store(false)
	return nil
}

func (o *observation) Close() error {
	var err error
	o.once.Do(func() {
		o.cancel()
		<-o.done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var ok bool
		err = o.p.callWorld(ctx, &ok, "disconnect", o.id)
	})
	return err
}
