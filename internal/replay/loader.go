package replay

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Frame is one decoded snapshot frame from a session journal.
type Frame struct {
	Tick       uint64
	CapturedAt time.Time
	Payload    []byte
}

// Event is one decoded entry from the session event log.
type Event struct {
	Tick       uint64
	CapturedAt time.Time
	Type       string
	Payload    []byte
}

// Loader rehydrates a session journal bundle for validation workflows.
type Loader struct {
	dir      string
	manifest Manifest
	header   Header
}

// Open reads the manifest and header of a journal bundle directory.
func Open(dir string) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal directory must be provided")
	}
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	header, err := ReadHeader(filepath.Join(dir, "header.json"))
	if err != nil {
		return nil, err
	}
	return &Loader{dir: dir, manifest: manifest, header: header}, nil
}

// Manifest exposes the decoded manifest.
func (l *Loader) Manifest() Manifest {
	if l == nil {
		return Manifest{}
	}
	return l.manifest
}

// Header exposes the decoded session header.
func (l *Loader) Header() Header {
	if l == nil {
		return Header{}
	}
	return l.header
}

// Frames decodes the snapshot stream in recorded order.
func (l *Loader) Frames() ([]Frame, error) {
	if l == nil {
		return nil, fmt.Errorf("loader not initialised")
	}
	file, err := os.Open(filepath.Join(l.dir, l.manifest.FramesPath))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var frames []Frame
	reader := bufio.NewReader(decoder)
	for {
		//1.- Each frame is a fixed header followed by the payload bytes.
		header := make([]byte, 8+8+4)
		if _, err := io.ReadFull(reader, header); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		tick := binary.LittleEndian.Uint64(header[0:8])
		captured := time.Unix(0, int64(binary.LittleEndian.Uint64(header[8:16]))).UTC()
		size := binary.LittleEndian.Uint32(header[16:20])
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
		frames = append(frames, Frame{Tick: tick, CapturedAt: captured, Payload: payload})
	}
}

// Events decodes the event log in recorded order.
func (l *Loader) Events() ([]Event, error) {
	if l == nil {
		return nil, fmt.Errorf("loader not initialised")
	}
	file, err := os.Open(filepath.Join(l.dir, l.manifest.EventsPath))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var events []Event
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record struct {
			Tick       uint64 `json:"tick"`
			CapturedAt string `json:"captured_at"`
			Type       string `json:"type"`
			PayloadB64 string `json:"payload_b64"`
		}
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("parse event line: %w", err)
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse event captured_at: %w", err)
		}
		payload, err := base64.StdEncoding.DecodeString(record.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		events = append(events, Event{Tick: record.Tick, CapturedAt: captured, Type: record.Type, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// ReplayFrames invokes apply for every frame in tick order; recording order is
// tick order, so no sort is needed.
func (l *Loader) ReplayFrames(apply func(Frame) error) error {
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	frames, err := l.Frames()
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := apply(frame); err != nil {
			return err
		}
	}
	return nil
}
