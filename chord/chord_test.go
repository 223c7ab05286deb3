package chord

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlaystudy/identifier"
	"overlaystudy/overlayerr"
)

func buildRing(t *testing.T, ids ...identifier.Identifier) *Overlay {
	t.Helper()
	space := identifier.NewSpace(8)
	o, err := Build(space, 3, 4, ids)
	require.NoError(t, err)
	return o
}

func TestBuildRejectsDuplicates(t *testing.T) {
	space := identifier.NewSpace(8)
	_, err := Build(space, 3, 4, []identifier.Identifier{1, 2, 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, overlayerr.ErrDuplicateID))
}

func TestSingleNodeRingOwnsEverything(t *testing.T) {
	o := buildRing(t, 5)
	owner, hops, err := o.FindOwner(context.Background(), 5, 200)
	require.NoError(t, err)
	assert.Equal(t, identifier.Identifier(5), owner)
	assert.Equal(t, 0, hops)
}

func TestFindOwnerMatchesGroundTruth(t *testing.T) {
	ids := []identifier.Identifier{10, 50, 90, 130, 200}
	o := buildRing(t, ids...)

	for keyID := identifier.Identifier(0); keyID < 256; keyID += 7 {
		want := o.Owner(keyID)
		got, hops, err := o.FindOwner(context.Background(), ids[0], keyID)
		require.NoError(t, err)
		assert.Equal(t, want, got, "keyID=%d", keyID)
		assert.GreaterOrEqual(t, hops, 0)
	}
}

func TestInsertLookupDeleteRoundTrip(t *testing.T) {
	o := buildRing(t, 10, 50, 90, 130, 200)
	ctx := context.Background()
	from := identifier.Identifier(10)

	owner, _, err := o.Insert(ctx, from, "Some Title", "v1")
	require.NoError(t, err)

	values, found, owner2, _, err := o.Lookup(ctx, from, "some title")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, owner, owner2)
	assert.Equal(t, []interface{}{"v1"}, values)

	updated, _, _, err := o.Update(ctx, from, "some title", "v2")
	require.NoError(t, err)
	assert.True(t, updated)

	values, _, _, _, err = o.Lookup(ctx, from, "some title")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"v2"}, values)

	deleted, _, _, err := o.Delete(ctx, from, "some title")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, _, _, err = o.Lookup(ctx, from, "some title")
	require.NoError(t, err)
	assert.False(t, found)

	deletedAgain, _, _, err := o.Delete(ctx, from, "some title")
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}

func TestJoinMovesOnlyOwnedKeys(t *testing.T) {
	o := buildRing(t, 10, 90, 200)
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		_, _, err := o.Insert(ctx, 10, identifier.Normalize(identifierKey(i)), i)
		require.NoError(t, err)
	}

	totalBefore := 0
	for _, id := range o.Nodes() {
		totalBefore += o.Index(id).Len()
	}

	hops, err := o.Join(ctx, 50, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hops, 0)

	totalAfter := 0
	for _, id := range o.Nodes() {
		totalAfter += o.Index(id).Len()
	}
	assert.Equal(t, totalBefore, totalAfter, "join must not drop or duplicate keys")

	for _, k := range o.Index(50).Keys() {
		kid := identifier.HashFn(o.space, k)
		assert.Equal(t, identifier.Identifier(50), o.Owner(kid))
	}
}

func TestLeaveRedistributesToSuccessor(t *testing.T) {
	o := buildRing(t, 10, 90, 200)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, _, err := o.Insert(ctx, 10, identifier.Normalize(identifierKey(i)), i)
		require.NoError(t, err)
	}

	totalBefore := 0
	for _, id := range o.Nodes() {
		totalBefore += o.Index(id).Len()
	}

	_, err := o.Leave(ctx, 90)
	require.NoError(t, err)

	assert.Len(t, o.Nodes(), 2)
	totalAfter := 0
	for _, id := range o.Nodes() {
		totalAfter += o.Index(id).Len()
	}
	assert.Equal(t, totalBefore, totalAfter)
}

func TestLeaveRejectsLastNode(t *testing.T) {
	o := buildRing(t, 10)
	_, err := o.Leave(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, overlayerr.ErrEmptyOverlayForbidden))
}

func identifierKey(i int) string {
	return "record-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
}
