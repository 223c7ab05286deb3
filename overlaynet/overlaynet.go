// Package overlaynet is the in-process delivery fabric the overlays
// route operation requests through. It stands in for a real transport:
// every Send is a synchronous, in-memory function call, and every hop
// is accounted against a per-operation counter carried on the request
// context (spec §4.3).
package overlaynet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrUnknownPeer is returned by Send when no endpoint is registered for
// the destination id.
var ErrUnknownPeer = errors.New("overlaynet: unknown peer")

// OpTag names the operation an envelope carries, for logging.
type OpTag string

// Message is the envelope carried as both Request and Response payload
// between endpoints. Value is nil for requests that do not carry one
// (e.g. lookup, delete).
type Message struct {
	RequestID string
	Op        OpTag
	Key       string
	KeyID     uint64
	Value     interface{}
	Values    []interface{}
	Found     bool
	Owner     uint64
}

// Endpoint handles a Message addressed to the node it's registered
// under and returns a response Message.
type Endpoint func(ctx context.Context, from NodeID, req Message) (Message, error)

// NodeID identifies a registered endpoint. The overlay packages use
// identifier.Identifier values here; overlaynet treats it opaquely as a
// comparable key so it has no dependency on the identifier package.
type NodeID uint64

// Network is the endpoint registry described in spec §4.3. Each chord
// or pastry overlay builds its own Network; there is no single
// process-wide instance. The registry mutex (per spec §5) is held only
// long enough to resolve the endpoint, never across delivery.
type Network struct {
	mu        sync.RWMutex
	endpoints map[NodeID]Endpoint
}

// New creates an empty Network.
func New() *Network {
	return &Network{endpoints: make(map[NodeID]Endpoint)}
}

// Register binds ep as the endpoint for id, replacing any prior binding.
func (n *Network) Register(id NodeID, ep Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[id] = ep
	log.Printf("overlaynet: registered node %d\n", id)
}

// Unregister removes the endpoint bound to id, if any.
func (n *Network) Unregister(id NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, id)
	log.Printf("overlaynet: unregistered node %d\n", id)
}

// Send delivers req to the endpoint registered for to, incrementing the
// hop counter carried on ctx (if any) by one. Returns ErrUnknownPeer if
// to has no registered endpoint.
func (n *Network) Send(ctx context.Context, from, to NodeID, req Message) (Message, error) {
	n.mu.RLock()
	ep, ok := n.endpoints[to]
	n.mu.RUnlock()

	if !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownPeer, to)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	countHop(ctx)

	return ep(ctx, from, req)
}

type hopCounterKey struct{}

// BeginOp returns a context carrying a fresh, zeroed hop counter for a
// single logical operation. Recursive routing threads this context
// through every Send call instead of passing a counter argument.
func BeginOp(ctx context.Context) context.Context {
	var counter int32
	return context.WithValue(ctx, hopCounterKey{}, &counter)
}

// EndOp returns the number of hops counted against ctx's operation. It
// returns 0 if ctx was never passed through BeginOp.
func EndOp(ctx context.Context) int {
	if counter, ok := ctx.Value(hopCounterKey{}).(*int32); ok {
		return int(atomic.LoadInt32(counter))
	}
	return 0
}

func countHop(ctx context.Context) {
	if counter, ok := ctx.Value(hopCounterKey{}).(*int32); ok {
		atomic.AddInt32(counter, 1)
	}
}
