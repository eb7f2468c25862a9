package inputqueue

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tickforge/sync/internal/world"
)

// ErrStaleInput signals an input targeting a tick the simulation has already
// passed. Stale inputs are dropped silently, never reported as faults.
var ErrStaleInput = errors.New("input targets an elapsed tick")

// ErrDuplicateInput signals a sequence number at or below the highest already
// accepted for the client. Duplicates are idempotently ignored.
var ErrDuplicateInput = errors.New("input sequence already accepted")

// DropReason enumerates why an input was rejected.
type DropReason string

const (
	DropReasonNone      DropReason = ""
	DropReasonStale     DropReason = "stale"
	DropReasonDuplicate DropReason = "duplicate"
	DropReasonWindow    DropReason = "window"
)

// DropCounters aggregates per-reason drop counts for one client.
type DropCounters struct {
	Stale     uint64 `json:"stale"`
	Duplicate uint64 `json:"duplicate"`
	Window    uint64 `json:"window"`
}

// Input is one sequenced control payload received from a client.
type Input struct {
	Client   string
	Sequence uint64
	Tick     uint64
	Controls world.Controls
}

type clientQueue struct {
	highestSeq uint64
	appliedSeq uint64
	pending    []Input
	drops      DropCounters
}

// Config bounds the queue's buffering behaviour.
type Config struct {
	// ReorderWindow caps how many ticks ahead of the simulation an input may
	// target. Inputs beyond it degrade to "no input" for their tick.
	ReorderWindow uint64
}

// Queue buffers and orders per-client inputs for consumption by the
// simulation step. Sequence gaps never block a tick: a missing sequence
// simply means the client had no input for the affected tick.
type Queue struct {
	mu          sync.Mutex
	cfg         Config
	log         *zap.Logger
	currentTick uint64
	clients     map[string]*clientQueue
}

// NewQueue constructs a queue with the supplied configuration.
func NewQueue(cfg Config, log *zap.Logger) *Queue {
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = 32
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{cfg: cfg, log: log, clients: make(map[string]*clientQueue)}
}

// Push validates and buffers an input. Rejections return the matching
// sentinel error so callers can distinguish bookkeeping from real faults.
func (q *Queue) Push(input Input) error {
	if q == nil || input.Client == "" {
		return errors.New("input requires a client id")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	state := q.clients[input.Client]
	if state == nil {
		state = &clientQueue{}
		q.clients[input.Client] = state
	}

	//1.- Drop duplicates and reordered sequences before any tick checks.
	if input.Sequence == 0 || input.Sequence <= state.highestSeq {
		state.drops.Duplicate++
		return fmt.Errorf("client %s seq %d: %w", input.Client, input.Sequence, ErrDuplicateInput)
	}

	//2.- Discard inputs for ticks the simulation has already executed.
	if input.Tick <= q.currentTick {
		state.highestSeq = input.Sequence
		if input.Sequence > state.appliedSeq {
			state.appliedSeq = input.Sequence
		}
		state.drops.Stale++
		return fmt.Errorf("client %s tick %d at server tick %d: %w", input.Client, input.Tick, q.currentTick, ErrStaleInput)
	}

	//3.- Bound how far ahead a client may schedule inputs.
	if input.Tick > q.currentTick+q.cfg.ReorderWindow {
		state.drops.Window++
		return fmt.Errorf("client %s tick %d beyond reorder window: %w", input.Client, input.Tick, ErrStaleInput)
	}

	state.highestSeq = input.Sequence
	state.pending = append(state.pending, input)
	return nil
}

// DrainForTick removes and returns every input scheduled for the tick,
// ordered by client then sequence. Buffered inputs that became stale while
// waiting are discarded, not surfaced.
func (q *Queue) DrainForTick(tick uint64) []world.TickInput {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if tick > q.currentTick {
		q.currentTick = tick
	}

	var drained []world.TickInput
	for client, state := range q.clients {
		kept := state.pending[:0]
		for _, input := range state.pending {
			switch {
			case input.Tick == tick:
				//1.- Promote the input into the tick batch and mark it incorporated.
				drained = append(drained, world.TickInput{
					Client:   client,
					Sequence: input.Sequence,
					Controls: input.Controls,
				})
				if input.Sequence > state.appliedSeq {
					state.appliedSeq = input.Sequence
				}
			case input.Tick < tick:
				//2.- Late buffered inputs degrade to "no input" for their tick.
				state.drops.Stale++
				if input.Sequence > state.appliedSeq {
					state.appliedSeq = input.Sequence
				}
			default:
				kept = append(kept, input)
			}
		}
		state.pending = kept
	}

	sort.Slice(drained, func(i, j int) bool {
		if drained[i].Client != drained[j].Client {
			return drained[i].Client < drained[j].Client
		}
		return drained[i].Sequence < drained[j].Sequence
	})
	return drained
}

// AppliedSequences reports, per client, the highest sequence number that has
// been incorporated into (or superseded by) the simulation state. The
// replication manager embeds these in outgoing snapshots so clients know
// which retained inputs still need replaying.
func (q *Queue) AppliedSequences() map[string]uint64 {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	applied := make(map[string]uint64, len(q.clients))
	for client, state := range q.clients {
		applied[client] = state.appliedSeq
	}
	return applied
}

// HighestSequence reports the highest sequence accepted for the client.
func (q *Queue) HighestSequence(client string) uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if state := q.clients[client]; state != nil {
		return state.highestSeq
	}
	return 0
}

// Counters returns a copy of the drop counters for diagnostics.
func (q *Queue) Counters(client string) DropCounters {
	if q == nil {
		return DropCounters{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if state := q.clients[client]; state != nil {
		return state.drops
	}
	return DropCounters{}
}

// Forget discards all state for a disconnected client.
func (q *Queue) Forget(client string) {
	if q == nil || client == "" {
		return
	}
	q.mu.Lock()
	delete(q.clients, client)
	q.mu.Unlock()
}
