package pastry

import (
	"context"
	"fmt"

	"overlaystudy/identifier"
	"overlaystudy/overlayerr"
)

// Insert routes key to its owner (starting the lookup from `from`) and
// appends value to its LocalIndex entry (spec §4.6 insert).
func (o *Overlay) Insert(ctx context.Context, from identifier.Identifier, key string, value interface{}) (owner identifier.Identifier, hops int, err error) {
	normalized := identifier.Normalize(key)
	keyID := identifier.HashFn(o.space, normalized)

	owner, hops, err = o.FindOwner(ctx, from, keyID)
	if err != nil {
		return 0, hops, err
	}

	idx := o.Index(owner)
	if idx == nil {
		return owner, hops, fmt.Errorf("pastry: %w: owner %d vanished mid-operation", overlayerr.ErrInvariant, owner)
	}
	idx.Insert(normalized, value)
	return owner, hops, nil
}

// Lookup routes key to its owner and returns its value list, if any.
func (o *Overlay) Lookup(ctx context.Context, from identifier.Identifier, key string) (values []interface{}, found bool, owner identifier.Identifier, hops int, err error) {
	normalized := identifier.Normalize(key)
	keyID := identifier.HashFn(o.space, normalized)

	owner, hops, err = o.FindOwner(ctx, from, keyID)
	if err != nil {
		return nil, false, 0, hops, err
	}

	idx := o.Index(owner)
	if idx == nil {
		return nil, false, owner, hops, fmt.Errorf("pastry: %w: owner %d vanished mid-operation", overlayerr.ErrInvariant, owner)
	}
	values, found = idx.Lookup(normalized)
	return values, found, owner, hops, nil
}

// Delete routes key to its owner and removes it entirely. A missing key
// returns deleted=false with no error (spec §7 soft KeyAbsent).
func (o *Overlay) Delete(ctx context.Context, from identifier.Identifier, key string) (deleted bool, owner identifier.Identifier, hops int, err error) {
	normalized := identifier.Normalize(key)
	keyID := identifier.HashFn(o.space, normalized)

	owner, hops, err = o.FindOwner(ctx, from, keyID)
	if err != nil {
		return false, 0, hops, err
	}

	idx := o.Index(owner)
	if idx == nil {
		return false, owner, hops, fmt.Errorf("pastry: %w: owner %d vanished mid-operation", overlayerr.ErrInvariant, owner)
	}
	deleted = idx.Delete(normalized)
	return deleted, owner, hops, nil
}

// Update routes key to its owner and replaces its value list with
// [value] if the key exists.
func (o *Overlay) Update(ctx context.Context, from identifier.Identifier, key string, value interface{}) (updated bool, owner identifier.Identifier, hops int, err error) {
	normalized := identifier.Normalize(key)
	keyID := identifier.HashFn(o.space, normalized)

	owner, hops, err = o.FindOwner(ctx, from, keyID)
	if err != nil {
		return false, 0, hops, err
	}

	idx := o.Index(owner)
	if idx == nil {
		return false, owner, hops, fmt.Errorf("pastry: %w: owner %d vanished mid-operation", overlayerr.ErrInvariant, owner)
	}
	updated = idx.Update(normalized, value)
	return updated, owner, hops, nil
}
