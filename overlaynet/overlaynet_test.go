package overlaynet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDeliversToRegisteredEndpoint(t *testing.T) {
	net := New()
	var gotFrom NodeID
	var gotOp OpTag
	net.Register(1, func(ctx context.Context, from NodeID, req Message) (Message, error) {
		gotFrom = from
		gotOp = req.Op
		return Message{Owner: 42}, nil
	})

	resp, err := net.Send(context.Background(), 9, 1, Message{Op: "probe"})
	require.NoError(t, err)
	assert.Equal(t, NodeID(9), gotFrom)
	assert.Equal(t, OpTag("probe"), gotOp)
	assert.Equal(t, uint64(42), resp.Owner)
}

func TestSendUnknownPeer(t *testing.T) {
	net := New()
	_, err := net.Send(context.Background(), 1, 2, Message{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPeer))
}

func TestSendStampsRequestID(t *testing.T) {
	net := New()
	var gotID string
	net.Register(1, func(ctx context.Context, from NodeID, req Message) (Message, error) {
		gotID = req.RequestID
		return Message{}, nil
	})
	_, err := net.Send(context.Background(), 0, 1, Message{})
	require.NoError(t, err)
	assert.NotEmpty(t, gotID)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	net := New()
	net.Register(1, func(ctx context.Context, from NodeID, req Message) (Message, error) {
		return Message{}, nil
	})
	net.Unregister(1)

	_, err := net.Send(context.Background(), 0, 1, Message{})
	assert.True(t, errors.Is(err, ErrUnknownPeer))
}

func TestHopCounterAccumulatesAcrossRecursiveSends(t *testing.T) {
	net := New()
	net.Register(2, func(ctx context.Context, from NodeID, req Message) (Message, error) {
		return Message{}, nil
	})
	net.Register(1, func(ctx context.Context, from NodeID, req Message) (Message, error) {
		_, err := net.Send(ctx, 1, 2, Message{})
		return Message{}, err
	})

	ctx := BeginOp(context.Background())
	_, err := net.Send(ctx, 0, 1, Message{})
	require.NoError(t, err)
	assert.Equal(t, 2, EndOp(ctx))
}

func TestEndOpWithoutBeginReturnsZero(t *testing.T) {
	assert.Equal(t, 0, EndOp(context.Background()))
}
