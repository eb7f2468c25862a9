package replication

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tickforge/sync/internal/codec"
	"tickforge/sync/internal/world"
)

// ErrClientTimeout reports that a client stopped acknowledging snapshots. It
// evicts only that client's record; the simulation loop is unaffected.
var ErrClientTimeout = errors.New("client ack timeout")

const rttSmoothing = 0.125

// Config tunes the per-tick replication decisions.
type Config struct {
	// CadenceTicks sends one snapshot every N simulation ticks.
	CadenceTicks uint64
	// AckTimeout forces a full resync for clients silent this long.
	AckTimeout time.Duration
	// RTTMarginTicks pads history retention below the minimum acked tick.
	RTTMarginTicks uint64
	// BytesPerSecond caps each client's snapshot throughput.
	BytesPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.CadenceTicks == 0 {
		c.CadenceTicks = 3
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.RTTMarginTicks == 0 {
		c.RTTMarginTicks = 8
	}
	return c
}

// Record is the server-side bookkeeping for one connected client.
type Record struct {
	ClientID   string
	lastAck    uint64
	hasAck     bool
	lastAckAt  time.Time
	rtt        time.Duration
	highestSeq uint64
	interest   map[world.EntityID]struct{}
	forceFull  bool
	sentAt     map[uint64]time.Time
}

// Outgoing is one encoded snapshot addressed to a single client.
type Outgoing struct {
	ClientID        string
	Tick            uint64
	BaselineTick    uint64
	Full            bool
	AppliedSequence uint64
	Payload         []byte
}

// Manager decides, once per simulation tick, what to send each connected
// client. Every client gets a delta against its own last-acknowledged
// baseline, so one slow or lossy client never inflates delta size for the
// rest.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
	clients   map[string]*Record
	regulator *Regulator
}

// Option customises manager construction.
type Option func(*Manager)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewManager constructs a replication manager.
func NewManager(cfg Config, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	manager := &Manager{
		cfg:     cfg.withDefaults(),
		log:     log,
		now:     time.Now,
		clients: make(map[string]*Record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	manager.regulator = NewRegulator(manager.cfg.BytesPerSecond, manager.now)
	return manager
}

// Join creates a record for a newly connected client. The first send is
// always a full snapshot because nothing has been acknowledged yet.
func (m *Manager) Join(clientID string) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[clientID]; ok {
		return
	}
	m.clients[clientID] = &Record{
		ClientID:  clientID,
		lastAckAt: m.now(),
		sentAt:    make(map[uint64]time.Time),
	}
}

// Leave discards the record and any in-flight budget for the client.
func (m *Manager) Leave(clientID string) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	delete(m.clients, clientID)
	m.mu.Unlock()
	m.regulator.Forget(clientID)
}

// ObserveAck records the highest snapshot tick the client reports applying.
// Acks are idempotent and monotonic: a duplicate or out-of-order ack leaves
// the record unchanged.
func (m *Manager) ObserveAck(clientID string, tick uint64) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record := m.clients[clientID]
	if record == nil {
		return
	}
	if record.hasAck && tick <= record.lastAck {
		return
	}
	//1.- Advance the baseline marker and refresh the liveness deadline.
	record.lastAck = tick
	record.hasAck = true
	now := m.now()
	record.lastAckAt = now
	//2.- Fold the ack round trip into the smoothed RTT estimate.
	if sent, ok := record.sentAt[tick]; ok {
		sample := now.Sub(sent)
		if sample > 0 {
			if record.rtt == 0 {
				record.rtt = sample
			} else {
				record.rtt = time.Duration((1-rttSmoothing)*float64(record.rtt) + rttSmoothing*float64(sample))
			}
		}
	}
	//3.- Forget send timestamps the ack has superseded.
	for sentTick := range record.sentAt {
		if sentTick <= tick {
			delete(record.sentAt, sentTick)
		}
	}
}

// ObserveInput records the highest input sequence seen from the client.
func (m *Manager) ObserveInput(clientID string, sequence uint64) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if record := m.clients[clientID]; record != nil && sequence > record.highestSeq {
		record.highestSeq = sequence
	}
}

// ForceFull schedules a full snapshot for the client's next send, used when
// the client explicitly requests a resync.
func (m *Manager) ForceFull(clientID string) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	if record := m.clients[clientID]; record != nil {
		record.forceFull = true
	}
	m.mu.Unlock()
}

// SetInterest restricts which entities the client receives. A nil set means
// all entities.
func (m *Manager) SetInterest(clientID string, ids []world.EntityID) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record := m.clients[clientID]
	if record == nil {
		return
	}
	if ids == nil {
		record.interest = nil
		return
	}
	record.interest = make(map[world.EntityID]struct{}, len(ids))
	for _, id := range ids {
		record.interest[id] = struct{}{}
	}
}

// RTT reports the smoothed round-trip estimate for the client.
func (m *Manager) RTT(clientID string) time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if record := m.clients[clientID]; record != nil {
		return record.rtt
	}
	return 0
}

// LastAck reports the client's last acknowledged tick.
func (m *Manager) LastAck(clientID string) (uint64, bool) {
	if m == nil {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if record := m.clients[clientID]; record != nil {
		return record.lastAck, record.hasAck
	}
	return 0, false
}

// PlanTick encodes one snapshot per client when the cadence fires. Baselines
// come from each client's own acknowledged history; anything unavailable
// degrades to a full snapshot instead of an error.
func (m *Manager) PlanTick(target *world.Snapshot, history *world.History, applied map[string]uint64) []Outgoing {
	if m == nil || target == nil {
		return nil
	}
	if target.Tick%m.cfg.CadenceTicks != 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ids := make([]string, 0, len(m.clients))
	for clientID := range m.clients {
		ids = append(ids, clientID)
	}
	sort.Strings(ids)

	var outgoing []Outgoing
	for _, clientID := range ids {
		record := m.clients[clientID]

		//1.- Force a resync for clients whose acks went silent past the timeout.
		if !record.forceFull && now.Sub(record.lastAckAt) > m.cfg.AckTimeout {
			record.forceFull = true
			m.log.Warn("client ack timeout, forcing full snapshot",
				zap.String("client_id", clientID),
				zap.Uint64("last_ack", record.lastAck))
		}

		//2.- Select the baseline: the client's acked tick if still retained, else none.
		var baseline *world.Snapshot
		if !record.forceFull && record.hasAck {
			if snapshot, err := history.At(record.lastAck); err == nil {
				baseline = snapshot
			}
		}

		//3.- Filter both sides by the interest set so deltas stay consistent.
		filteredTarget := filterSnapshot(target, record.interest)
		filteredBaseline := filterSnapshot(baseline, record.interest)

		delta := codec.EncodeDelta(filteredBaseline, filteredTarget)
		payload, err := codec.Marshal(delta)
		if err != nil {
			m.log.Error("snapshot encode failed",
				zap.String("client_id", clientID), zap.Error(err))
			continue
		}

		//4.- Charge the bandwidth budget; refused payloads are dropped, not retried.
		if !m.regulator.Allow(clientID, len(payload)) {
			m.log.Debug("snapshot dropped by bandwidth budget",
				zap.String("client_id", clientID),
				zap.Int("payload_bytes", len(payload)))
			continue
		}

		record.forceFull = false
		record.sentAt[target.Tick] = now
		if len(record.sentAt) > 64 {
			pruneOldestSend(record.sentAt)
		}
		outgoing = append(outgoing, Outgoing{
			ClientID:        clientID,
			Tick:            target.Tick,
			BaselineTick:    delta.BaselineTick,
			Full:            delta.Full,
			AppliedSequence: applied[clientID],
			Payload:         payload,
		})
	}
	return outgoing
}

// RetentionFloor reports the lowest tick any live client may still need as a
// baseline, padded by the RTT margin. Timed-out clients do not pin history:
// they are already marked for a full resync.
func (m *Manager) RetentionFloor(currentTick uint64) uint64 {
	if m == nil {
		return currentTick
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	floor := currentTick
	for _, record := range m.clients {
		if !record.hasAck || now.Sub(record.lastAckAt) > m.cfg.AckTimeout {
			continue
		}
		if record.lastAck < floor {
			floor = record.lastAck
		}
	}
	if floor > m.cfg.RTTMarginTicks {
		return floor - m.cfg.RTTMarginTicks
	}
	return 0
}

func filterSnapshot(snapshot *world.Snapshot, interest map[world.EntityID]struct{}) *world.Snapshot {
	if snapshot == nil || interest == nil {
		return snapshot
	}
	filtered := world.NewSnapshot(snapshot.Tick)
	for id, entity := range snapshot.Entities {
		if _, ok := interest[id]; ok {
			filtered.Put(entity)
		}
	}
	return filtered
}

func pruneOldestSend(sentAt map[uint64]time.Time) {
	var oldest uint64
	first := true
	for tick := range sentAt {
		if first || tick < oldest {
			oldest = tick
			first = false
		}
	}
	if !first {
		delete(sentAt, oldest)
	}
}
