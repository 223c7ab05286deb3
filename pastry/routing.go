package pastry

import (
	"context"
	"fmt"

	"overlaystudy/identifier"
	"overlaystudy/overlayerr"
	"overlaystudy/overlaynet"
)

type visitedKey struct{}

// beginOp wraps overlaynet.BeginOp with a per-operation visited-hop set,
// used by the mandatory cycle guard (spec §4.5 step 4, §9).
func beginOp(ctx context.Context) context.Context {
	ctx = overlaynet.BeginOp(ctx)
	visited := make(map[identifier.Identifier]bool)
	return context.WithValue(ctx, visitedKey{}, &visited)
}

// markVisited records at as visited for this operation and reports
// whether it had already been visited.
func markVisited(ctx context.Context, at identifier.Identifier) bool {
	vp, ok := ctx.Value(visitedKey{}).(*map[identifier.Identifier]bool)
	if !ok {
		return false
	}
	m := *vp
	if m[at] {
		return true
	}
	m[at] = true
	return false
}

func isVisited(ctx context.Context, at identifier.Identifier) bool {
	vp, ok := ctx.Value(visitedKey{}).(*map[identifier.Identifier]bool)
	if !ok {
		return false
	}
	return (*vp)[at]
}

func (o *Overlay) registerEndpoint(id identifier.Identifier) {
	o.net.Register(toNodeID(id), func(ctx context.Context, from overlaynet.NodeID, req overlaynet.Message) (overlaynet.Message, error) {
		switch req.Op {
		case opFindOwner:
			owner, err := o.resolve(ctx, id, identifier.Identifier(req.KeyID))
			if err != nil {
				return overlaynet.Message{}, err
			}
			return overlaynet.Message{Op: opFindOwner, Owner: uint64(owner)}, nil
		case opAbsorb:
			return overlaynet.Message{Op: opAbsorb}, nil
		default:
			return overlaynet.Message{}, fmt.Errorf("pastry: unknown op %q", req.Op)
		}
	})
}

// resolve implements spec §4.5 find_owner steps 1-4 for the node at
// `at`. Called directly (no hop) for the node the caller is already
// "at", and recursively via Network.Send (one hop per forward)
// thereafter.
func (o *Overlay) resolve(ctx context.Context, at, keyID identifier.Identifier) (identifier.Identifier, error) {
	markVisited(ctx, at)

	o.mu.RLock()
	node, ok := o.nodes[at]
	if !ok {
		o.mu.RUnlock()
		return 0, fmt.Errorf("pastry: %w: %d", overlayerr.ErrUnknownNode, at)
	}
	space := o.space
	leafLower := append([]identifier.Identifier(nil), node.leafLower...)
	leafUpper := append([]identifier.Identifier(nil), node.leafUpper...)
	ring := o.ring

	l := o.sharedPrefixLen(at, keyID)
	var matrixCellAtLC matrixCell
	if l < o.rows {
		c := o.digitAt(keyID, l)
		matrixCellAtLC = node.matrix[l][c]
	}
	o.mu.RUnlock()

	// Step 1: leaf-set range check.
	if owner, ok := o.inLeafRange(at, keyID, leafLower, leafUpper, len(ring)); ok {
		return owner, nil
	}

	// Step 2: routing matrix forward.
	if matrixCellAtLC.Valid && matrixCellAtLC.ID != at && !isVisited(ctx, matrixCellAtLC.ID) {
		return o.forward(ctx, at, matrixCellAtLC.ID, keyID)
	}

	// Step 3: rare-case scan of leaf set + routing matrix + self.
	o.mu.RLock()
	candidates := o.routingCandidates(node)
	o.mu.RUnlock()

	selfDist := space.AbsoluteDistance(at, keyID)
	var best identifier.Identifier
	found := false
	for _, t := range candidates {
		if isVisited(ctx, t) {
			continue
		}
		if o.sharedPrefixLen(t, keyID) < l {
			continue
		}
		if space.AbsoluteDistance(t, keyID) >= selfDist {
			continue
		}
		if !found || space.AbsoluteDistance(t, keyID) < space.AbsoluteDistance(best, keyID) {
			best = t
			found = true
		}
	}

	// Step 4: cycle guard. No improving, unvisited candidate: terminate
	// here rather than loop forever.
	if !found {
		return at, nil
	}
	return o.forward(ctx, at, best, keyID)
}

func (o *Overlay) forward(ctx context.Context, from, to, keyID identifier.Identifier) (identifier.Identifier, error) {
	resp, err := o.net.Send(ctx, toNodeID(from), toNodeID(to), overlaynet.Message{
		Op:    opFindOwner,
		KeyID: uint64(keyID),
	})
	if err != nil {
		return 0, err
	}
	return identifier.Identifier(resp.Owner), nil
}

// inLeafRange reports whether keyID falls within at's leaf-set range
// (spec §4.5 step 1) and, if so, returns the member of leafLower ∪
// {at} ∪ leafUpper numerically closest to keyID.
func (o *Overlay) inLeafRange(at, keyID identifier.Identifier, leafLower, leafUpper []identifier.Identifier, liveCount int) (identifier.Identifier, bool) {
	if liveCount <= o.l+1 {
		// Every node's leaf set already spans the whole live ring.
		return o.closestAmong(keyID, at, leafLower, leafUpper), true
	}

	low, high := at, at
	if len(leafLower) > 0 {
		low = leafLower[len(leafLower)-1]
	}
	if len(leafUpper) > 0 {
		high = leafUpper[len(leafUpper)-1]
	}

	if !o.space.InClosed(keyID, low, high) {
		return 0, false
	}
	return o.closestAmong(keyID, at, leafLower, leafUpper), true
}

func (o *Overlay) closestAmong(keyID, self identifier.Identifier, leafLower, leafUpper []identifier.Identifier) identifier.Identifier {
	best := self
	bestDist := o.space.AbsoluteDistance(self, keyID)
	for _, cands := range [][]identifier.Identifier{leafLower, leafUpper} {
		for _, id := range cands {
			d := o.space.AbsoluteDistance(id, keyID)
			if d < bestDist {
				best = id
				bestDist = d
			}
		}
	}
	return best
}

// routingCandidates returns the union of at's leaf set, routing matrix,
// and at itself, for the step-3 rare-case scan. Callers must hold o.mu
// for reading.
func (o *Overlay) routingCandidates(node *pastryNode) []identifier.Identifier {
	seen := make(map[identifier.Identifier]bool)
	out := []identifier.Identifier{node.id}
	seen[node.id] = true
	for _, id := range node.leafLower {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range node.leafUpper {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, row := range node.matrix {
		for _, cell := range row {
			if cell.Valid && !seen[cell.ID] {
				seen[cell.ID] = true
				out = append(out, cell.ID)
			}
		}
	}
	return out
}

// FindOwner resolves the live NodeId that owns keyID, starting routing
// from `starting`. The returned hop count excludes the final local
// LocalIndex access (spec Glossary).
func (o *Overlay) FindOwner(ctx context.Context, starting, keyID identifier.Identifier) (owner identifier.Identifier, hops int, err error) {
	ctx = beginOp(ctx)
	owner, err = o.resolve(ctx, starting, keyID)
	return owner, overlaynet.EndOp(ctx), err
}
