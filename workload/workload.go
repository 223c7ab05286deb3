// Package workload drives an overlay.Overlay with generated operation
// sequences and aggregates the hop counts each operation reports (spec
// §2, §6). It never touches a real dataset or a real transport: the
// operation payloads come from a Generator, and routing is whatever the
// overlay package it's pointed at already does.
package workload

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"overlaystudy/identifier"
	"overlaystudy/overlay"
)

// OperationTag names the kind of op a Generator produces.
type OperationTag string

const (
	OpInsert OperationTag = "insert"
	OpLookup OperationTag = "lookup"
	OpDelete OperationTag = "delete"
	OpUpdate OperationTag = "update"
)

// Operation is one unit of generated work. ID is a correlation id for
// log tracing, mirroring overlaynet.Message.RequestID.
type Operation struct {
	ID    string
	Op    OperationTag
	Key   string
	Value interface{}
}

// Generator produces a sequence of operations over a fixed key
// population. Implementations decide which keys to emphasize; workload
// never reads or writes a dataset itself.
type Generator interface {
	// Next returns the next operation to issue, or ok=false when the
	// generator is exhausted.
	Next() (Operation, bool)
}

// UniformGenerator issues n operations chosen uniformly at random over
// keys, split across the given operation mix.
type UniformGenerator struct {
	keys  []string
	mix   []OperationTag
	n     int
	rng   *rand.Rand
	count int
}

// NewUniformGenerator builds a Generator that issues n operations over
// keys, picking uniformly among mix for each op's tag and among keys for
// its key. rngSeed makes replays deterministic.
func NewUniformGenerator(keys []string, mix []OperationTag, n int, rngSeed int64) *UniformGenerator {
	if len(mix) == 0 {
		mix = []OperationTag{OpLookup}
	}
	return &UniformGenerator{
		keys: keys,
		mix:  mix,
		n:    n,
		rng:  rand.New(rand.NewSource(rngSeed)),
	}
}

func (g *UniformGenerator) Next() (Operation, bool) {
	if g.count >= g.n || len(g.keys) == 0 {
		return Operation{}, false
	}
	g.count++
	key := g.keys[g.rng.Intn(len(g.keys))]
	tag := g.mix[g.rng.Intn(len(g.mix))]
	return Operation{
		ID:    uuid.New().String(),
		Op:    tag,
		Key:   key,
		Value: g.count,
	}, true
}

// PopularityGenerator issues operations whose keys are weighted toward a
// "hot" subset of keys, the Zipfian-ish skew spec §2's
// "popularity-weighted" workload calls for. weight, clamped to [0,1], is
// the probability a given draw picks from the hot set rather than the
// full population.
type PopularityGenerator struct {
	hot   []string
	all   []string
	mix   []OperationTag
	n     int
	weight float64
	rng   *rand.Rand
	count int
}

// NewPopularityGenerator builds a Generator that draws from hot with
// probability weight and from all otherwise.
func NewPopularityGenerator(all, hot []string, mix []OperationTag, n int, weight float64, rngSeed int64) *PopularityGenerator {
	if len(mix) == 0 {
		mix = []OperationTag{OpLookup}
	}
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	return &PopularityGenerator{
		hot:    hot,
		all:    all,
		mix:    mix,
		n:      n,
		weight: weight,
		rng:    rand.New(rand.NewSource(rngSeed)),
	}
}

func (g *PopularityGenerator) Next() (Operation, bool) {
	if g.count >= g.n || len(g.all) == 0 {
		return Operation{}, false
	}
	g.count++

	pool := g.all
	if len(g.hot) > 0 && g.rng.Float64() < g.weight {
		pool = g.hot
	}
	key := pool[g.rng.Intn(len(pool))]
	tag := g.mix[g.rng.Intn(len(g.mix))]
	return Operation{
		ID:    uuid.New().String(),
		Op:    tag,
		Key:   key,
		Value: g.count,
	}, true
}

// Observer is invoked once per completed operation (spec §6 aggregation
// hook).
type Observer func(protocolTag, operationTag string, hops, nNodes, nItems int)

// Stats accumulates running min/max/mean hop counts per (protocol, op)
// pair, fed by an Observer.
type Stats struct {
	mu      sync.Mutex
	buckets map[statKey]*bucket
}

type statKey struct {
	protocol string
	op       string
}

type bucket struct {
	count int
	sum   int
	min   int
	max   int
}

// NewStats creates an empty Stats accumulator.
func NewStats() *Stats {
	return &Stats{buckets: make(map[statKey]*bucket)}
}

// Observe records one operation's hop count under the given protocol/op.
// Use Stats.Observe as (or wrapped by) an Observer.
func (s *Stats) Observe(protocolTag, operationTag string, hops, nNodes, nItems int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statKey{protocolTag, operationTag}
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{min: hops, max: hops}
		s.buckets[key] = b
	}
	b.count++
	b.sum += hops
	if hops < b.min {
		b.min = hops
	}
	if hops > b.max {
		b.max = hops
	}
}

// Summary is one (protocol, op) pair's aggregated hop statistics.
type Summary struct {
	Protocol string
	Op       string
	Count    int
	Min      int
	Max      int
	Mean     float64
}

// Summaries returns the current aggregated stats for every (protocol,
// op) pair observed so far.
func (s *Stats) Summaries() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.buckets))
	for k, b := range s.buckets {
		mean := 0.0
		if b.count > 0 {
			mean = float64(b.sum) / float64(b.count)
		}
		out = append(out, Summary{
			Protocol: k.protocol,
			Op:       k.op,
			Count:    b.count,
			Min:      b.min,
			Max:      b.max,
			Mean:     mean,
		})
	}
	return out
}

// Run drains gen sequentially against ov, issuing every operation from
// the fixed node from, and feeds each result's hop count to obs (if
// non-nil).
func Run(ctx context.Context, ov *overlay.Overlay, from identifier.Identifier, gen Generator, obs Observer) error {
	ov.SetObserver(overlay.Observer(obs))
	for {
		op, ok := gen.Next()
		if !ok {
			return nil
		}
		if err := issue(ctx, ov, from, op); err != nil {
			return err
		}
	}
}

// RunConcurrent drains gen across a fixed-size pool of workers issuing
// ops against ov concurrently (spec §5's "K concurrent popularity
// lookups" workload), with a semaphore bounding the number of
// operations in flight.
func RunConcurrent(ctx context.Context, ov *overlay.Overlay, from identifier.Identifier, gen Generator, obs Observer, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	ov.SetObserver(overlay.Observer(obs))

	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for {
		op, ok := gen.Next()
		if !ok {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(op Operation) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := issue(ctx, ov, from, op); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(op)
	}
	wg.Wait()
	return firstErr
}

func issue(ctx context.Context, ov *overlay.Overlay, from identifier.Identifier, op Operation) error {
	switch op.Op {
	case OpInsert:
		return ov.Insert(ctx, from, op.Key, op.Value).Err
	case OpLookup:
		return ov.Lookup(ctx, from, op.Key).Err
	case OpDelete:
		return ov.Delete(ctx, from, op.Key).Err
	case OpUpdate:
		return ov.Update(ctx, from, op.Key, op.Value).Err
	default:
		return nil
	}
}
