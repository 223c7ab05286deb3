// Package pastry implements the Pastry overlay: digit-based routing
// matrix, leaf set, numeric-closeness key resolution with a mandatory
// cycle guard, and join/leave with key redistribution (spec §4.5).
package pastry

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"overlaystudy/identifier"
	"overlaystudy/localindex"
	"overlaystudy/overlayerr"
	"overlaystudy/overlaynet"
)

const opFindOwner overlaynet.OpTag = "pastry.find_owner"
const opAbsorb overlaynet.OpTag = "pastry.absorb"

// matrixCell is a routing-table entry. Valid is false for an empty cell
// (spec §3: "diagonal cell R[r][digit_r(n)] = n or empty").
type matrixCell struct {
	ID    identifier.Identifier
	Valid bool
}

// pastryNode is the per-node topology state, referenced elsewhere only
// by NodeId (spec §9 arena pattern).
type pastryNode struct {
	id         identifier.Identifier
	leafLower  []identifier.Identifier // L/2 nearest strictly-less, nearest first
	leafUpper  []identifier.Identifier // L/2 nearest strictly-greater, nearest first
	matrix     [][]matrixCell          // rows x cols
	index      *localindex.LocalIndex
}

// Overlay is a live Pastry overlay.
type Overlay struct {
	space identifier.Space
	b     int // digit width in bits
	l     int // leaf set size (even)
	rows  int // ceil(m/b)
	cols  int // 2^b
	t     int // B+ tree branching factor
	net   *overlaynet.Network

	mu    sync.RWMutex
	ring  []identifier.Identifier // sorted, distinct, live node ids
	nodes map[identifier.Identifier]*pastryNode
}

// Build creates a Pastry overlay over nodeIDs (spec §4.5 Build). b is
// the digit width (1<=b<=8), l is the leaf set size (even, >=4), t is
// the B+ tree branching factor. Build fails if nodeIDs contains a
// duplicate.
func Build(space identifier.Space, b, l, t int, nodeIDs []identifier.Identifier) (*Overlay, error) {
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("pastry: build requires at least one node")
	}
	if b < 1 {
		b = 4
	}
	if l < 4 || l%2 != 0 {
		l = 8
	}

	ring := append([]identifier.Identifier(nil), nodeIDs...)
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })
	for i := 1; i < len(ring); i++ {
		if ring[i] == ring[i-1] {
			return nil, fmt.Errorf("pastry: %w: %d", overlayerr.ErrDuplicateID, ring[i])
		}
	}

	rows := int((space.M + uint(b) - 1) / uint(b))
	cols := 1 << uint(b)

	o := &Overlay{
		space: space,
		b:     b,
		l:     l,
		rows:  rows,
		cols:  cols,
		t:     t,
		net:   overlaynet.New(),
		ring:  ring,
		nodes: make(map[identifier.Identifier]*pastryNode, len(ring)),
	}

	for _, id := range ring {
		o.nodes[id] = &pastryNode{id: id, index: localindex.New(t)}
	}
	o.rebuildTopology()

	for _, id := range ring {
		o.registerEndpoint(id)
	}

	log.Printf("pastry: built overlay with %d nodes, b=%d l=%d rows=%d\n", len(ring), b, l, rows)
	return o, nil
}

// digitAt returns digit_row(id), the row-th base-2^b digit of id, most
// significant digit first.
func (o *Overlay) digitAt(id identifier.Identifier, row int) int {
	shift := uint(o.b * (o.rows - 1 - row))
	return int((uint64(id) >> shift) & uint64(o.cols-1))
}

// sharedPrefixLen returns the number of leading digits a and b share.
func (o *Overlay) sharedPrefixLen(a, b identifier.Identifier) int {
	for r := 0; r < o.rows; r++ {
		if o.digitAt(a, r) != o.digitAt(b, r) {
			return r
		}
	}
	return o.rows
}

// rebuildTopology recomputes every node's leaf set and routing matrix
// from the current live ring. Global rebuild on every membership change
// is an accepted core simplification (spec §4.5 Join/Leave, §9).
// Callers must hold o.mu for writing.
func (o *Overlay) rebuildTopology() {
	n := len(o.ring)
	half := o.l / 2

	for i, id := range o.ring {
		node := o.nodes[id]

		lowerCount := half
		upperCount := half
		if lowerCount > n-1 {
			lowerCount = n - 1
		}
		if upperCount > n-1 {
			upperCount = n - 1
		}

		node.leafLower = node.leafLower[:0]
		for k := 1; k <= lowerCount; k++ {
			node.leafLower = append(node.leafLower, o.ring[(i-k+n)%n])
		}
		node.leafUpper = node.leafUpper[:0]
		for k := 1; k <= upperCount; k++ {
			node.leafUpper = append(node.leafUpper, o.ring[(i+k)%n])
		}

		node.matrix = make([][]matrixCell, o.rows)
		for r := 0; r < o.rows; r++ {
			node.matrix[r] = make([]matrixCell, o.cols)
		}
	}

	// Populate routing matrices: for each node n, each row r, each
	// column c != digit_r(n), select the live node sharing n's first r
	// digits with digit_r == c, preferring the numerically closest on
	// ties (spec §4.5 Build, first-seen wins per DESIGN.md).
	for _, id := range o.ring {
		node := o.nodes[id]
		selfDigits := make([]int, o.rows)
		for r := 0; r < o.rows; r++ {
			selfDigits[r] = o.digitAt(id, r)
		}

		for r := 0; r < o.rows; r++ {
			node.matrix[r][selfDigits[r]] = matrixCell{ID: id, Valid: true}

			for _, cand := range o.ring {
				if cand == id {
					continue
				}
				if o.sharedPrefixLen(cand, id) < r {
					continue
				}
				c := o.digitAt(cand, r)
				if c == selfDigits[r] {
					continue
				}
				cell := &node.matrix[r][c]
				if !cell.Valid || o.space.AbsoluteDistance(cand, id) < o.space.AbsoluteDistance(cell.ID, id) {
					*cell = matrixCell{ID: cand, Valid: true}
				}
			}
		}
	}
}

func toNodeID(id identifier.Identifier) overlaynet.NodeID { return overlaynet.NodeID(id) }

// Owner computes the owner of a key directly against the current live
// set (spec §3: numerically closest live id), bypassing routing
// entirely. Exposed for checking routing convergence (spec §8
// property 1).
func (o *Overlay) Owner(keyID identifier.Identifier) identifier.Identifier {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closestLive(keyID)
}

func (o *Overlay) closestLive(keyID identifier.Identifier) identifier.Identifier {
	best := o.ring[0]
	bestDist := o.space.AbsoluteDistance(best, keyID)
	for _, id := range o.ring[1:] {
		d := o.space.AbsoluteDistance(id, keyID)
		if d < bestDist {
			best = id
			bestDist = d
		}
	}
	return best
}

// Index returns the LocalIndex belonging to a live node, or nil if id
// is not live.
func (o *Overlay) Index(id identifier.Identifier) *localindex.LocalIndex {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if n, ok := o.nodes[id]; ok {
		return n.index
	}
	return nil
}

// Nodes returns the current sorted, live node id set.
func (o *Overlay) Nodes() []identifier.Identifier {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]identifier.Identifier(nil), o.ring...)
}

// Describe returns a human-readable topology summary.
func (o *Overlay) Describe(id identifier.Identifier) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n, ok := o.nodes[id]
	if !ok {
		return fmt.Sprintf("pastry node %d: not live", id)
	}
	return fmt.Sprintf("pastry node %d: leaf_lower=%v leaf_upper=%v keys=%d peers=%d",
		id, n.leafLower, n.leafUpper, n.index.Len(), len(o.ring)-1)
}
