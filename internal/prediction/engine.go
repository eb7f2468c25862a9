package prediction

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"tickforge/sync/internal/codec"
	"tickforge/sync/internal/inputqueue"
	"tickforge/sync/internal/world"
)

// State enumerates the client synchronisation state machine.
type State int

const (
	// StateUnsynced means no full snapshot has been accepted yet.
	StateUnsynced State = iota
	// StatePredicting means local input is applied optimistically.
	StatePredicting
	// StateReconciling means a replay against fresh authoritative state is
	// in progress.
	StateReconciling
)

// String returns the textual name of the state.
func (s State) String() string {
	switch s {
	case StateUnsynced:
		return "unsynced"
	case StatePredicting:
		return "predicting"
	case StateReconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// ErrNotSynced reports that a delta arrived before any full snapshot.
var ErrNotSynced = errors.New("no full snapshot accepted yet")

// Config tunes the correction policy left open by the replication design:
// how large a prediction error snaps instantly versus blending away.
type Config struct {
	// SnapDistance is the positional error, in fixed-point world units, at
	// or above which the correction is applied instantly.
	SnapDistance float64
	// BlendTau is the time constant of the exponential decay used to blend
	// away sub-snap errors.
	BlendTau time.Duration
	// HistoryDepth bounds the local snapshot window kept for baselines.
	HistoryDepth int
}

func (c Config) withDefaults() Config {
	if c.SnapDistance <= 0 {
		c.SnapDistance = 80
	}
	if c.BlendTau <= 0 {
		c.BlendTau = 100 * time.Millisecond
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 64
	}
	return c
}

// Engine drives client-side prediction and reconciliation. Local input is
// applied immediately through the same deterministic stepper the server
// runs; when an authoritative snapshot arrives, retained inputs newer than
// the server's applied sequence are replayed on top of it.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	log      *zap.Logger
	stepper  world.Stepper
	clientID string
	self     world.EntityID

	state     State
	predicted *world.Snapshot
	history   *world.History
	journal   *inputqueue.Journal
	nextSeq   uint64

	offsetX  float64
	offsetY  float64
	offsetAt time.Time
	now      func() time.Time
}

// Option customises engine construction.
type Option func(*Engine)

// WithClock overrides the wall-clock source used by the blend decay.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// NewEngine constructs an engine for the given client identity.
func NewEngine(clientID string, stepper world.Stepper, cfg Config, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	engine := &Engine{
		cfg:      cfg,
		log:      log,
		stepper:  stepper,
		clientID: clientID,
		state:    StateUnsynced,
		history:  world.NewHistory(cfg.HistoryDepth),
		journal:  inputqueue.NewJournal(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine
}

// State reports the current synchronisation state.
func (e *Engine) State() State {
	if e == nil {
		return StateUnsynced
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetSelf records which entity this client predicts for itself.
func (e *Engine) SetSelf(id world.EntityID) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.self = id
	e.mu.Unlock()
}

// Predicted returns the current predicted snapshot, nil while unsynced.
func (e *Engine) Predicted() *world.Snapshot {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predicted
}

// PendingInputs reports how many inputs await server confirmation.
func (e *Engine) PendingInputs() int {
	if e == nil {
		return 0
	}
	return e.journal.Len()
}

// ApplyLocalInput advances the predicted state by one tick with the supplied
// controls, retains the input for replay, and returns the journal entry to
// transmit. It reports false while the engine is unsynced.
func (e *Engine) ApplyLocalInput(controls world.Controls, step time.Duration) (inputqueue.JournalEntry, bool) {
	if e == nil {
		return inputqueue.JournalEntry{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateUnsynced || e.predicted == nil {
		return inputqueue.JournalEntry{}, false
	}

	//1.- Assign the next sequence and the tick this input is meant to drive.
	e.nextSeq++
	entry := inputqueue.JournalEntry{
		Sequence: e.nextSeq,
		Tick:     e.predicted.Tick + 1,
		Controls: controls,
	}

	//2.- Apply optimistically through the shared deterministic stepper.
	e.predicted = e.stepper.Step(e.predicted, entry.Tick, step, []world.TickInput{{
		Client:   e.clientID,
		Sequence: entry.Sequence,
		Controls: entry.Controls,
	}})

	//3.- Retain the input until the server confirms incorporating it.
	e.journal.Record(entry)
	return entry, true
}

// IngestSnapshot decodes-applies an authoritative delta and reconciles the
// predicted state by replaying unconfirmed inputs. It returns the tick to
// acknowledge, or zero when the snapshot was stale and dropped.
//
// A missing local baseline returns world.ErrBaselineUnavailable after
// discarding all pending inputs; the caller must request a full resync.
func (e *Engine) IngestSnapshot(delta codec.Delta, appliedSeq uint64, step time.Duration) (uint64, error) {
	if e == nil {
		return 0, errors.New("nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	//1.- Ignore snapshots older than what we already applied; packets reorder.
	if latest := e.history.Latest(); latest != nil && delta.TargetTick <= latest.Tick {
		return 0, nil
	}

	//2.- Resolve the declared baseline from local history.
	var baseline *world.Snapshot
	if !delta.Full {
		if e.state == StateUnsynced {
			return 0, fmt.Errorf("delta at tick %d: %w", delta.TargetTick, ErrNotSynced)
		}
		snapshot, err := e.history.At(delta.BaselineTick)
		if err != nil {
			//3.- Cannot reconcile without a matching baseline: drop the
			// prediction backlog and ask for a full resync.
			e.journal.Clear()
			e.log.Warn("baseline missing, requesting full resync",
				zap.Uint64("baseline_tick", delta.BaselineTick),
				zap.Uint64("target_tick", delta.TargetTick))
			return 0, err
		}
		baseline = snapshot
	}

	auth, err := codec.Apply(baseline, delta)
	if err != nil {
		return 0, err
	}
	if err := e.history.Push(auth); err != nil {
		return 0, nil
	}

	//4.- First full snapshot completes the Unsynced -> Predicting transition.
	if e.state == StateUnsynced {
		e.state = StatePredicting
		e.predicted = auth
		return auth.Tick, nil
	}

	//5.- Reconcile: rewind to the authoritative state and replay every
	// retained input the server has not incorporated yet, in order.
	e.state = StateReconciling
	e.journal.DiscardThrough(appliedSeq)

	replayed := auth
	for _, entry := range e.journal.After(appliedSeq) {
		replayed = e.stepper.Step(replayed, replayed.Tick+1, step, []world.TickInput{{
			Client:   e.clientID,
			Sequence: entry.Sequence,
			Controls: entry.Controls,
		}})
	}

	//6.- Measure how far the replay moved our own entity from what was
	// displayed, then snap or schedule a blend.
	e.updateCorrectionLocked(e.predicted, replayed)

	e.predicted = replayed
	e.state = StatePredicting
	return auth.Tick, nil
}

// Reset returns the engine to the unsynced state, discarding prediction
// history and pending inputs. Used when accepting a full resync after an
// unrecoverable decode failure.
func (e *Engine) Reset() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.state = StateUnsynced
	e.predicted = nil
	e.offsetX, e.offsetY = 0, 0
	e.history.Reset()
	e.journal.Clear()
	e.mu.Unlock()
}

// VisualOffset returns the residual correction offset to add to the rendered
// self position. The offset decays exponentially with BlendTau so small
// mispredictions fade without a visible jump.
func (e *Engine) VisualOffset() (float64, float64) {
	if e == nil {
		return 0, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offsetX == 0 && e.offsetY == 0 {
		return 0, 0
	}
	elapsed := e.now().Sub(e.offsetAt)
	if elapsed < 0 {
		elapsed = 0
	}
	decay := math.Exp(-elapsed.Seconds() / e.cfg.BlendTau.Seconds())
	return e.offsetX * decay, e.offsetY * decay
}

func (e *Engine) updateCorrectionLocked(before, after *world.Snapshot) {
	prevX, prevY, okPrev := selfPosition(before, e.self)
	nextX, nextY, okNext := selfPosition(after, e.self)
	if !okPrev || !okNext {
		e.offsetX, e.offsetY = 0, 0
		return
	}
	dx := prevX - nextX
	dy := prevY - nextY
	distance := math.Hypot(dx, dy)
	if distance == 0 {
		return
	}
	if distance >= e.cfg.SnapDistance {
		//1.- Large divergence snaps immediately; blending would smear it out
		// long enough to accumulate further error.
		e.offsetX, e.offsetY = 0, 0
		e.log.Debug("prediction error snapped", zap.Float64("distance", distance))
		return
	}
	//2.- Small divergence is carried as a decaying visual offset.
	e.offsetX = dx
	e.offsetY = dy
	e.offsetAt = e.now()
}

func selfPosition(snapshot *world.Snapshot, self world.EntityID) (float64, float64, bool) {
	if snapshot == nil || self.IsZero() {
		return 0, 0, false
	}
	entity, ok := snapshot.Get(self)
	if !ok {
		return 0, 0, false
	}
	position, ok := entity.Get(world.KindPosition)
	if !ok {
		return 0, 0, false
	}
	return float64(position.X), float64(position.Y), true
}
