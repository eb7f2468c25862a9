package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// FormatVersion tags every encoded snapshot body. Mismatched peers must fail
// the connection explicitly instead of misinterpreting bytes.
const FormatVersion byte = 1

// ErrVersionMismatch signals that a payload was produced by an incompatible
// codec. It is fatal for the connection that received it.
var ErrVersionMismatch = errors.New("snapshot codec version mismatch")

// Marshal encodes the delta as a self-describing payload: one version byte
// followed by a snappy-compressed JSON body.
func Marshal(delta Delta) ([]byte, error) {
	body, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	//1.- Compress the body then prepend the format tag for fail-fast decoding.
	compressed := snappy.Encode(nil, body)
	payload := make([]byte, 0, len(compressed)+1)
	payload = append(payload, FormatVersion)
	payload = append(payload, compressed...)
	return payload, nil
}

// Unmarshal decodes a payload produced by Marshal, rejecting foreign formats.
func Unmarshal(payload []byte) (Delta, error) {
	if len(payload) < 1 {
		return Delta{}, fmt.Errorf("empty snapshot payload: %w", ErrVersionMismatch)
	}
	if payload[0] != FormatVersion {
		return Delta{}, fmt.Errorf("payload version %d, want %d: %w", payload[0], FormatVersion, ErrVersionMismatch)
	}
	//1.- Decompress then decode; both failures indicate a corrupt or foreign payload.
	body, err := snappy.Decode(nil, payload[1:])
	if err != nil {
		return Delta{}, fmt.Errorf("decompress delta: %w", err)
	}
	var delta Delta
	if err := json.Unmarshal(body, &delta); err != nil {
		return Delta{}, fmt.Errorf("decode delta: %w", err)
	}
	return delta, nil
}
