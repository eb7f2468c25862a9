package protocol

import (
	"encoding/json"
	"fmt"

	"tickforge/sync/internal/codec"
	"tickforge/sync/internal/world"
)

// Version tags every envelope. Peers speaking a different protocol version
// must be disconnected explicitly rather than fed misinterpreted bytes.
const Version = 1

// Kind enumerates the wire message kinds exchanged between server and client.
type Kind string

const (
	KindJoin     Kind = "join"
	KindJoined   Kind = "joined"
	KindLeave    Kind = "leave"
	KindInput    Kind = "input"
	KindSnapshot Kind = "snapshot"
	KindAck      Kind = "ack"
	KindResync   Kind = "resync"
)

// JoinPayload announces a client on its connection.
type JoinPayload struct {
	Name string `json:"name,omitempty"`
}

// JoinedPayload tells the client its identity and predicted entity.
type JoinedPayload struct {
	ClientID string         `json:"client_id"`
	Entity   world.EntityID `json:"entity"`
	TickRate float64        `json:"tick_rate"`
}

// InputPayload carries one sequenced control sample, sent on an
// unreliable-but-ordered channel. The server drops any sequence not greater
// than the highest it has accepted for the client.
type InputPayload struct {
	Sequence uint64         `json:"seq"`
	Tick     uint64         `json:"tick"`
	Controls world.Controls `json:"controls"`
	SentAtMs int64          `json:"sent_at_ms,omitempty"`
}

// SnapshotPayload carries one encoded world delta. Losing one is tolerable:
// the next snapshot against a different baseline recovers.
type SnapshotPayload struct {
	Tick            uint64 `json:"tick"`
	BaselineTick    uint64 `json:"baseline_tick"`
	Full            bool   `json:"full"`
	AppliedSequence uint64 `json:"applied_seq"`
	Body            []byte `json:"body"`
}

// AckPayload reports the highest snapshot tick the client applied. A later
// ack with a higher tick supersedes a lost one.
type AckPayload struct {
	Tick uint64 `json:"tick"`
}

// Envelope is the framed wire message. Exactly one payload pointer matching
// Kind is populated.
type Envelope struct {
	Version  int              `json:"v"`
	Kind     Kind             `json:"kind"`
	Join     *JoinPayload     `json:"join,omitempty"`
	Joined   *JoinedPayload   `json:"joined,omitempty"`
	Input    *InputPayload    `json:"input,omitempty"`
	Snapshot *SnapshotPayload `json:"snapshot,omitempty"`
	Ack      *AckPayload      `json:"ack,omitempty"`
}

// Encode marshals the envelope, stamping the protocol version.
func Encode(envelope Envelope) ([]byte, error) {
	envelope.Version = Version
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", envelope.Kind, err)
	}
	return data, nil
}

// Decode unmarshals an envelope and verifies the protocol version. A
// mismatch is fatal for the connection that produced the bytes.
func Decode(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version != Version {
		return Envelope{}, fmt.Errorf("envelope version %d, want %d: %w",
			envelope.Version, Version, codec.ErrVersionMismatch)
	}
	if envelope.Kind == "" {
		return Envelope{}, fmt.Errorf("envelope missing kind")
	}
	return envelope, nil
}
