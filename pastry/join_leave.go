package pastry

import (
	"context"
	"fmt"

	"overlaystudy/identifier"
	"overlaystudy/localindex"
	"overlaystudy/overlayerr"
	"overlaystudy/overlaynet"
)

// Join admits newID into the overlay (spec §4.5 Join). seed is any live
// node to route the placement lookup from; its hop cost is counted.
// Every key whose numerically closest live id becomes newID moves into
// its LocalIndex. Routing matrix and leaf set are rebuilt globally
// (spec §4.5, §9 accepted simplification). Fails with ErrDuplicateID if
// newID is already live, leaving the overlay unchanged.
func (o *Overlay) Join(ctx context.Context, newID, seed identifier.Identifier) (hops int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.nodes[newID]; exists {
		return 0, fmt.Errorf("pastry: %w: %d", overlayerr.ErrDuplicateID, newID)
	}
	if _, exists := o.nodes[seed]; !exists {
		return 0, fmt.Errorf("pastry: %w: seed %d", overlayerr.ErrUnknownNode, seed)
	}

	ctx = beginOp(ctx)
	// resolve takes o.mu for reading, so the placement lookup runs with the
	// write lock released.
	o.mu.Unlock()
	_, err = o.resolve(ctx, seed, newID)
	o.mu.Lock()
	if err != nil {
		return overlaynet.EndOp(ctx), err
	}

	type movedEntry struct {
		fromNode identifier.Identifier
		key      string
		values   []interface{}
	}
	var moved []movedEntry
	for _, id := range o.ring {
		idx := o.nodes[id].index
		for k, vals := range idx.Scan() {
			kid := identifier.HashFn(o.space, k)
			if o.space.AbsoluteDistance(newID, kid) < o.space.AbsoluteDistance(id, kid) {
				moved = append(moved, movedEntry{id, k, vals})
			}
		}
	}

	newIdx := localindex.New(o.t)
	for _, m := range moved {
		for _, v := range m.values {
			newIdx.Insert(m.key, v)
		}
		o.nodes[m.fromNode].index.Delete(m.key)
	}

	o.nodes[newID] = &pastryNode{id: newID, index: newIdx}
	o.ring = insertSorted(o.ring, newID)
	o.rebuildTopology()
	o.registerEndpoint(newID)

	return overlaynet.EndOp(ctx), nil
}

// Leave removes id from the overlay (spec §4.5 Leave). Every key it
// held is reassigned to the new numerically closest live node over the
// remaining set. Fails with ErrUnknownNode or ErrEmptyOverlayForbidden,
// leaving the overlay unchanged.
func (o *Overlay) Leave(ctx context.Context, id identifier.Identifier) (hops int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	node, exists := o.nodes[id]
	if !exists {
		return 0, fmt.Errorf("pastry: %w: %d", overlayerr.ErrUnknownNode, id)
	}
	if len(o.ring) <= 1 {
		return 0, fmt.Errorf("pastry: %w", overlayerr.ErrEmptyOverlayForbidden)
	}

	ctx = beginOp(ctx)

	entries := make(map[string][]interface{})
	for k, vals := range node.index.Scan() {
		entries[k] = vals
	}

	delete(o.nodes, id)
	o.ring = removeSorted(o.ring, id)
	o.net.Unregister(toNodeID(id))

	notifyTarget := o.closestLive(id)
	if _, err := o.net.Send(ctx, toNodeID(id), toNodeID(notifyTarget), overlaynet.Message{Op: opAbsorb}); err != nil {
		return overlaynet.EndOp(ctx), err
	}

	for k, vals := range entries {
		kid := identifier.HashFn(o.space, k)
		newOwner := o.closestLive(kid)
		idx := o.nodes[newOwner].index
		for _, v := range vals {
			idx.Insert(k, v)
		}
	}

	o.rebuildTopology()
	return overlaynet.EndOp(ctx), nil
}

func insertSorted(ring []identifier.Identifier, id identifier.Identifier) []identifier.Identifier {
	pos := 0
	for pos < len(ring) && ring[pos] < id {
		pos++
	}
	ring = append(ring, 0)
	copy(ring[pos+1:], ring[pos:])
	ring[pos] = id
	return ring
}

func removeSorted(ring []identifier.Identifier, id identifier.Identifier) []identifier.Identifier {
	for i, v := range ring {
		if v == id {
			return append(ring[:i], ring[i+1:]...)
		}
	}
	return ring
}
