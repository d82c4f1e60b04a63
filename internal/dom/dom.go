// Package dom is the narrow document surface the rest of offerlens works
// against. A Document is either a live browser tab (internal/browser) or an
// in-memory tree (internal/dom/memdoc).
package dom

import (
	"context"
	"errors"

	"golang.org/x/net/html"
)

// Attributes and ids owned by offerlens. Everything else in the document
// belongs to the host page.
const (
	OrderAttr    = "data-offerlens-order"
	FavoriteAttr = "data-offerlens-favorite"
	SnapshotID   = "offerlens-snapshot"
)

// ErrNoTarget is returned by backends when an op's selector matched nothing
// and the op cannot be skipped (insertions and moves into a missing parent).
var ErrNoTarget = errors.New("dom: no element matches selector")

// SnapshotRequest names the subtrees to capture. Before capturing, every
// element matching Stamp that lacks KeyAttr receives a fresh document-unique
// key.
type SnapshotRequest struct {
	Roots   []string
	Stamp   string
	KeyAttr string
}

// Document is a shared mutable DOM.
type Document interface {
	// Snapshot returns a synthetic root element (id SnapshotID) whose children
	// are detached copies of every element matching one of req.Roots, in
	// request order. Roots that match nothing are simply absent.
	Snapshot(ctx context.Context, req SnapshotRequest) (*html.Node, error)
	// Apply runs the ops of b in order.
	Apply(ctx context.Context, b Batch) error
	// Marker returns the attributes of the element with the given id.
	Marker(ctx context.Context, id string) (map[string]string, bool, error)
	// Observe starts reporting child insertions below the first element
	// matching req.Target (document body when nothing matches).
	Observe(ctx context.Context, req ObserveRequest) (Observation, error)
}

// ObserveRequest configures an Observation. Inserted elements matching Stamp,
// and matching descendants of inserted elements, receive a key in KeyAttr
// before they are reported.
type ObserveRequest struct {
	Target  string
	Stamp   string
	KeyAttr string
}

// Mutation is one delivered batch of inserted element nodes. Nodes are
// detached copies, card keys already stamped.
type Mutation struct {
	Added []*html.Node
}

// Observation is a running child-insertion observer.
type Observation interface {
	Events() <-chan Mutation
	// Pause disconnects the observer and drops records not yet delivered.
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
}

// Find returns the first element below root (root included) with the given
// id.
func Find(root *html.Node, id string) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode {
		for _, a := range root.Attr {
			if a.Key == "id" && a.Val == id {
				return root
			}
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := Find(c, id); n != nil {
			return n
		}
	}
	return nil
}
