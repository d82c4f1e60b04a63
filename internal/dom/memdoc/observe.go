package memdoc

import (
	"context"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"offerlens/internal/dom"
)

type observation struct {
	doc     *Doc
	target  *html.Node
	stamp   cascadia.Selector
	keyAttr string

	out  chan dom.Mutation
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	queue  []dom.Mutation
	paused bool
}

// Observe implements dom.Document.
func (d *Doc) Observe(ctx context.Context, req dom.ObserveRequest) (dom.Observation, error) {
	var stamp cascadia.Selector
	if req.Stamp != "" {
		s, err := compile(req.Stamp)
		if err != nil {
			return nil, err
		}
		stamp = s
	}
	var targetSel cascadia.Selector
	if req.Target != "" {
		s, err := compile(req.Target)
		if err != nil {
			return nil, err
		}
		targetSel = s
	}
	o := &observation{
		doc:     d,
		stamp:   stamp,
		keyAttr: req.KeyAttr,
		out:     make(chan dom.Mutation),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	d.mu.Lock()
	if targetSel != nil {
		o.target = targetSel.MatchFirst(d.root)
	}
	if o.target == nil {
		o.target = d.body()
	}
	d.observers = append(d.observers, o)
	d.mu.Unlock()
	go o.pump(ctx)
	return o, nil
}

// notifyLocked reports nodes inserted under parent to every observation
// whose target contains parent. d.mu must be held.
func (d *Doc) notifyLocked(parent *html.Node, nodes []*html.Node) {
	for _, o := range d.observers {
		if parent != o.target && !isAncestor(o.target, parent) {
			continue
		}
		if o.isPaused() {
			continue
		}
		var added []*html.Node
		for _, n := range nodes {
			if n.Type != html.ElementNode {
				continue
			}
			d.stampLocked(n, o.stamp, o.keyAttr)
			added = append(added, clone(n))
		}
		if len(added) > 0 {
			o.push(dom.Mutation{Added: added})
		}
	}
}

func (o *observation) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *observation) push(m dom.Mutation) {
	o.mu.Lock()
	if o.paused {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *observation) pump(ctx context.Context) {
	defer close(o.out)
	for {
		select {
		case <-ctx.Done():
			o.Close()
			return
		case <-o.done:
			return
		case <-o.wake:
		}
		for {
			o.mu.Lock()
			if len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			m := o.queue[0]
			o.queue = o.queue[1:]
			o.mu.Unlock()
			select {
			case o.out <- m:
			case <-ctx.Done():
				o.Close()
				return
			case <-o.done:
				return
			}
		}
	}
}

func (o *observation) Events() <-chan dom.Mutation { return o.out }

func (o *observation) Pause(ctx context.Context) error {
	o.mu.Lock()
	o.paused = true
	o.queue = nil
	o.mu.Unlock()
	return nil
}

func (o *observation) Resume(ctx context.Context) error {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	return nil
}

func (o *observation) Close() error {
	o.once.Do(func() {
		close(o.done)
		d := o.doc
		d.mu.Lock()
		for i, other := range d.observers {
			if other == o {
				d.observers = append(d.observers[:i], d.observers[i+1:]...)
				break
			}
		}
		d.mu.Unlock()
	})
	return nil
}
