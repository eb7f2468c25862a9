package replication

import (
	"sync"
	"time"
)

// DefaultBytesPerSecond caps per-client snapshot throughput at 48 kbps.
const DefaultBytesPerSecond = 48000.0 / 8.0

type tokenBucket struct {
	tokens float64
	last   time.Time
	sent   int64
	denied int64
}

// Regulator enforces a per-client token-bucket byte budget so one client's
// snapshot stream can be throttled without touching the others. A refused
// snapshot is simply dropped; the next send with a newer baseline recovers.
type Regulator struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	capacity float64
	refill   float64
	now      func() time.Time
}

// NewRegulator constructs a regulator enforcing the supplied byte rate.
func NewRegulator(bytesPerSecond float64, clock func() time.Time) *Regulator {
	if bytesPerSecond <= 0 {
		bytesPerSecond = DefaultBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	return &Regulator{
		buckets:  make(map[string]*tokenBucket),
		capacity: bytesPerSecond,
		refill:   bytesPerSecond,
		now:      clock,
	}
}

// Allow charges the payload against the client's budget, reporting whether
// the snapshot may be transmitted.
func (r *Regulator) Allow(clientID string, payloadBytes int) bool {
	if r == nil || clientID == "" || payloadBytes <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket := r.buckets[clientID]
	if bucket == nil {
		//1.- Seed new clients with a full bucket so the initial full snapshot passes.
		bucket = &tokenBucket{tokens: r.capacity, last: now}
		r.buckets[clientID] = bucket
	}

	//2.- Refill from elapsed time, guarding against clock skew.
	if elapsed := now.Sub(bucket.last).Seconds(); elapsed > 0 {
		bucket.tokens += elapsed * r.refill
		if bucket.tokens > r.capacity {
			bucket.tokens = r.capacity
		}
	}
	bucket.last = now

	request := float64(payloadBytes)
	if request > bucket.tokens {
		bucket.denied++
		return false
	}
	bucket.tokens -= request
	bucket.sent += int64(payloadBytes)
	return true
}

// Denied reports how many snapshot deliveries were refused for the client.
func (r *Regulator) Denied(clientID string) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket := r.buckets[clientID]; bucket != nil {
		return bucket.denied
	}
	return 0
}

// Forget removes the bucket for a disconnected client.
func (r *Regulator) Forget(clientID string) {
	if r == nil || clientID == "" {
		return
	}
	r.mu.Lock()
	delete(r.buckets, clientID)
	r.mu.Unlock()
}
