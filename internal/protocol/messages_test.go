package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"tickforge/sync/internal/codec"
	"tickforge/sync/internal/world"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := Encode(Envelope{
		Kind: KindInput,
		Input: &InputPayload{
			Sequence: 42,
			Tick:     100,
			Controls: world.Controls{MoveX: 500, Fire: true},
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	envelope, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Kind != KindInput || envelope.Input == nil {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if envelope.Input.Sequence != 42 || envelope.Input.Controls.MoveX != 500 || !envelope.Input.Controls.Fire {
		t.Fatalf("input payload corrupted: %+v", envelope.Input)
	}
}

func TestDecodeRejectsForeignVersion(t *testing.T) {
	payload, err := json.Marshal(Envelope{Version: Version + 1, Kind: KindAck, Ack: &AckPayload{Tick: 1}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(payload); !errors.Is(err, codec.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDecodeRequiresKind(t *testing.T) {
	payload, err := json.Marshal(Envelope{Version: Version})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := Decode(payload); err == nil {
		t.Fatalf("expected missing kind to fail")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected garbage to fail decoding")
	}
}
