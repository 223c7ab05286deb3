// Package overlay exposes the uniform OperationAPI (spec §4.6) over
// either a Chord or a Pastry overlay as a tagged variant — not by
// inheritance (spec §9) — so callers that don't care which protocol
// backs a study run can share one code path.
package overlay

import (
	"context"
	"fmt"

	"overlaystudy/chord"
	"overlaystudy/identifier"
	"overlaystudy/pastry"
)

// Kind tags which protocol backs an Overlay.
type Kind int

const (
	// ChordKind backs an Overlay with a chord.Overlay.
	ChordKind Kind = iota
	// PastryKind backs an Overlay with a pastry.Overlay.
	PastryKind
)

func (k Kind) String() string {
	switch k {
	case ChordKind:
		return "chord"
	case PastryKind:
		return "pastry"
	default:
		return "unknown"
	}
}

// Config gathers the factory options recognized by the core (spec §6).
// The protocol constructors replace out-of-range values: B<1 becomes 4,
// an L that is odd or below 4 becomes 8, T<3 becomes 4, and R<1 becomes
// 1. M is used as given.
type Config struct {
	M int // identifier bit width, 8<=M<=64, default 16
	B int // Pastry digit width, 1<=B<=8, default 4
	L int // Pastry leaf-set size, even, >=4, default 8
	R int // Chord successor-list length, >=1, default ceil(log2 maxNodes)
	T int // B+ tree branching factor, >=3, default 4
}

// DefaultConfig returns spec §6's defaults. maxNodes sizes the Chord
// successor-list length default (ceil(log2 maxNodes)).
func DefaultConfig(maxNodes int) Config {
	return Config{
		M: 16,
		B: 4,
		L: 8,
		R: ceilLog2(maxNodes),
		T: 4,
	}
}

func ceilLog2(n int) int {
	if n < 2 {
		return 1
	}
	r := 0
	for (1 << r) < n {
		r++
	}
	return r
}

// Result is the uniform per-operation outcome (spec §6): the payload
// (if any), the hop count spent routing, and the resolved owner id (for
// debugging).
type Result struct {
	Value interface{}
	Found bool
	Owner identifier.Identifier
	Hops  int
	Err   error
}

// Observer is invoked once per completed operation (spec §6 aggregation
// hook).
type Observer func(protocolTag, operationTag string, hops, nNodes, nItems int)

// Overlay is the tagged-variant OperationAPI surface.
type Overlay struct {
	kind   Kind
	space  identifier.Space
	chord  *chord.Overlay
	pastry *pastry.Overlay

	observer Observer
}

// NewChord builds a ChordKind Overlay over nodeIDs.
func NewChord(cfg Config, nodeIDs []identifier.Identifier) (*Overlay, error) {
	space := identifier.NewSpace(uint(cfg.M))
	c, err := chord.Build(space, cfg.R, cfg.T, nodeIDs)
	if err != nil {
		return nil, err
	}
	return &Overlay{kind: ChordKind, space: space, chord: c}, nil
}

// NewPastry builds a PastryKind Overlay over nodeIDs.
func NewPastry(cfg Config, nodeIDs []identifier.Identifier) (*Overlay, error) {
	space := identifier.NewSpace(uint(cfg.M))
	p, err := pastry.Build(space, cfg.B, cfg.L, cfg.T, nodeIDs)
	if err != nil {
		return nil, err
	}
	return &Overlay{kind: PastryKind, space: space, pastry: p}, nil
}

// Kind reports which protocol backs this Overlay.
func (o *Overlay) Kind() Kind { return o.kind }

// Space returns the overlay's identifier space.
func (o *Overlay) Space() identifier.Space { return o.space }

// SetObserver installs the aggregation-hook callback (spec §6).
func (o *Overlay) SetObserver(obs Observer) { o.observer = obs }

func (o *Overlay) notify(op string, hops, nItems int) {
	if o.observer == nil {
		return
	}
	o.observer(o.kind.String(), op, hops, o.NodeCount(), nItems)
}

// NodeCount returns the number of live nodes.
func (o *Overlay) NodeCount() int {
	switch o.kind {
	case ChordKind:
		return len(o.chord.Nodes())
	case PastryKind:
		return len(o.pastry.Nodes())
	default:
		return 0
	}
}

// Nodes returns the current live node id set.
func (o *Overlay) Nodes() []identifier.Identifier {
	switch o.kind {
	case ChordKind:
		return o.chord.Nodes()
	case PastryKind:
		return o.pastry.Nodes()
	default:
		return nil
	}
}

// Insert routes key to its owner (starting from `from`) and appends
// value to its LocalIndex entry.
func (o *Overlay) Insert(ctx context.Context, from identifier.Identifier, key string, value interface{}) Result {
	var owner identifier.Identifier
	var hops int
	var err error
	switch o.kind {
	case ChordKind:
		owner, hops, err = o.chord.Insert(ctx, from, key, value)
	case PastryKind:
		owner, hops, err = o.pastry.Insert(ctx, from, key, value)
	default:
		err = fmt.Errorf("overlay: unknown kind %v", o.kind)
	}
	o.notify("insert", hops, 1)
	return Result{Owner: owner, Hops: hops, Err: err}
}

// Lookup routes key to its owner and returns its value list, if any.
func (o *Overlay) Lookup(ctx context.Context, from identifier.Identifier, key string) Result {
	var values []interface{}
	var found bool
	var owner identifier.Identifier
	var hops int
	var err error
	switch o.kind {
	case ChordKind:
		values, found, owner, hops, err = o.chord.Lookup(ctx, from, key)
	case PastryKind:
		values, found, owner, hops, err = o.pastry.Lookup(ctx, from, key)
	default:
		err = fmt.Errorf("overlay: unknown kind %v", o.kind)
	}
	o.notify("lookup", hops, len(values))
	return Result{Value: values, Found: found, Owner: owner, Hops: hops, Err: err}
}

// Delete routes key to its owner and removes it entirely. A missing key
// returns Result{Found:false, Err:nil} per spec §7.
func (o *Overlay) Delete(ctx context.Context, from identifier.Identifier, key string) Result {
	var deleted bool
	var owner identifier.Identifier
	var hops int
	var err error
	switch o.kind {
	case ChordKind:
		deleted, owner, hops, err = o.chord.Delete(ctx, from, key)
	case PastryKind:
		deleted, owner, hops, err = o.pastry.Delete(ctx, from, key)
	default:
		err = fmt.Errorf("overlay: unknown kind %v", o.kind)
	}
	o.notify("delete", hops, 0)
	return Result{Found: deleted, Owner: owner, Hops: hops, Err: err}
}

// Update routes key to its owner and replaces its value list with
// [value] iff the key exists.
func (o *Overlay) Update(ctx context.Context, from identifier.Identifier, key string, value interface{}) Result {
	var updated bool
	var owner identifier.Identifier
	var hops int
	var err error
	switch o.kind {
	case ChordKind:
		updated, owner, hops, err = o.chord.Update(ctx, from, key, value)
	case PastryKind:
		updated, owner, hops, err = o.pastry.Update(ctx, from, key, value)
	default:
		err = fmt.Errorf("overlay: unknown kind %v", o.kind)
	}
	o.notify("update", hops, 0)
	return Result{Found: updated, Owner: owner, Hops: hops, Err: err}
}

// Join admits newID into the overlay, routing the placement lookup from
// seed.
func (o *Overlay) Join(ctx context.Context, newID, seed identifier.Identifier) Result {
	var hops int
	var err error
	switch o.kind {
	case ChordKind:
		hops, err = o.chord.Join(ctx, newID, seed)
	case PastryKind:
		hops, err = o.pastry.Join(ctx, newID, seed)
	default:
		err = fmt.Errorf("overlay: unknown kind %v", o.kind)
	}
	o.notify("join", hops, 0)
	return Result{Owner: newID, Hops: hops, Err: err}
}

// Leave removes id from the overlay.
func (o *Overlay) Leave(ctx context.Context, id identifier.Identifier) Result {
	var hops int
	var err error
	switch o.kind {
	case ChordKind:
		hops, err = o.chord.Leave(ctx, id)
	case PastryKind:
		hops, err = o.pastry.Leave(ctx, id)
	default:
		err = fmt.Errorf("overlay: unknown kind %v", o.kind)
	}
	o.notify("leave", hops, 0)
	return Result{Owner: id, Hops: hops, Err: err}
}

// FindOwner resolves the owner of a raw key id, starting from `from`.
// Exposed for tests validating routing convergence (spec §8 property
// 1); the operation methods above call the equivalent protocol-specific
// method internally.
func (o *Overlay) FindOwner(ctx context.Context, from identifier.Identifier, keyID identifier.Identifier) (identifier.Identifier, int, error) {
	switch o.kind {
	case ChordKind:
		return o.chord.FindOwner(ctx, from, keyID)
	case PastryKind:
		return o.pastry.FindOwner(ctx, from, keyID)
	default:
		return 0, 0, fmt.Errorf("overlay: unknown kind %v", o.kind)
	}
}

// Owner computes the ground-truth owner of a key id directly, bypassing
// routing. Exposed for tests (spec §8 property 1).
func (o *Overlay) Owner(keyID identifier.Identifier) identifier.Identifier {
	switch o.kind {
	case ChordKind:
		return o.chord.Owner(keyID)
	case PastryKind:
		return o.pastry.Owner(keyID)
	default:
		return 0
	}
}

// Index returns the LocalIndex of a live node, or nil.
func (o *Overlay) Index(id identifier.Identifier) interface {
	Len() int
	Keys() []string
} {
	switch o.kind {
	case ChordKind:
		if idx := o.chord.Index(id); idx != nil {
			return idx
		}
	case PastryKind:
		if idx := o.pastry.Index(id); idx != nil {
			return idx
		}
	}
	return nil
}
