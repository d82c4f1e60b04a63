package dom

import (
	"fmt"
	"strconv"
	"strings"
)

// OpKind enumerates the write primitives a backend must support.
type OpKind int

const (
	OpSetAttr OpKind = iota
	OpRemoveAttr
	OpSetStyle
	OpRemoveStyle
	OpSetStyleAttr
	OpInsertHTML
	OpMove
	OpRemoveChildren
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpSetAttr:
		return "set-attr"
	case OpRemoveAttr:
		return "remove-attr"
	case OpSetStyle:
		return "set-style"
	case OpRemoveStyle:
		return "remove-style"
	case OpSetStyleAttr:
		return "set-style-attr"
	case OpInsertHTML:
		return "insert-html"
	case OpMove:
		return "move"
	case OpRemoveChildren:
		return "remove-children"
	case OpRemove:
		return "remove"
	}
	return "op(" + strconv.Itoa(int(k)) + ")"
}

// MarshalText encodes the kind by name, which is what the browser side
// dispatches on.
func (k OpKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Insert positions, as in insertAdjacentHTML.
const (
	BeforeBegin = "beforebegin"
	AfterBegin  = "afterbegin"
	BeforeEnd   = "beforeend"
	AfterEnd    = "afterend"
)

// Op is one write. Target selects every element it applies to; ops whose
// target matches nothing are no-ops unless they need a destination.
type Op struct {
	Kind      OpKind `json:"kind"`
	Target    string `json:"target"`
	Name      string `json:"name,omitempty"`
	Value     string `json:"value,omitempty"`
	Important bool   `json:"important,omitempty"`
	// Dest is the destination parent of a move.
	Dest string `json:"dest,omitempty"`
	// Position and HTML describe an insertion relative to Target.
	Position string `json:"position,omitempty"`
	HTML     string `json:"html,omitempty"`
}

func (o Op) String() string {
	switch o.Kind {
	case OpMove:
		return fmt.Sprintf("%s %s -> %s", o.Kind, o.Target, o.Dest)
	case OpInsertHTML:
		return fmt.Sprintf("%s %s %s (%d bytes)", o.Kind, o.Position, o.Target, len(o.HTML))
	}
	return fmt.Sprintf("%s %s %s=%q", o.Kind, o.Target, o.Name, o.Value)
}

func SetAttr(target, name, value string) Op {
	return Op{Kind: OpSetAttr, Target: target, Name: name, Value: value}
}

func RemoveAttr(target, name string) Op {
	return Op{Kind: OpRemoveAttr, Target: target, Name: name}
}

// SetStyle sets one inline declaration, with !important when important is
// set.
func SetStyle(target, prop, value string, important bool) Op {
	return Op{Kind: OpSetStyle, Target: target, Name: prop, Value: value, Important: important}
}

func RemoveStyle(target, prop string) Op {
	return Op{Kind: OpRemoveStyle, Target: target, Name: prop}
}

// SetStyleAttr replaces the whole style attribute. An empty value removes it.
func SetStyleAttr(target, style string) Op {
	return Op{Kind: OpSetStyleAttr, Target: target, Value: style}
}

func InsertHTML(target, position, markup string) Op {
	return Op{Kind: OpInsertHTML, Target: target, Position: position, HTML: markup}
}

// Move appends every element matching target, in document order, to the
// first element matching dest. The nodes themselves move; nothing is copied.
func Move(target, dest string) Op {
	return Op{Kind: OpMove, Target: target, Dest: dest}
}

func RemoveChildren(target string) Op {
	return Op{Kind: OpRemoveChildren, Target: target}
}

func Remove(target string) Op {
	return Op{Kind: OpRemove, Target: target}
}

// Batch is a list of ops applied together.
type Batch struct {
	Ops []Op `json:"ops"`
	// NextFrame defers the writes to the next animation frame.
	NextFrame bool `json:"nextFrame"`
	// PreserveScroll restores the window scroll offset after the writes.
	PreserveScroll bool `json:"preserveScroll"`
}

func (b *Batch) Add(ops ...Op) { b.Ops = append(b.Ops, ops...) }

func (b Batch) Empty() bool { return len(b.Ops) == 0 }

// ByID returns a selector for the element with the given id.
func ByID(id string) string { return "#" + id }

// ByAttr returns an attribute-equals selector with value quoted.
func ByAttr(name, value string) string {
	return "[" + name + "=" + strconv.Quote(value) + "]"
}

// Within scopes sel to descendants of scope.
func Within(scope, sel string) string {
	return strings.TrimSpace(scope) + " " + strings.TrimSpace(sel)
}
