// Package progress decodes the newline-delimited JSON events a transcription
// engine writes to stdout.
package progress

import (
	"bytes"
	"encoding/json"
	"sync"
)

type EventType string

const (
	EventProgress     EventType = "progress"
	EventComplete     EventType = "complete"
	EventUnrecognized EventType = "unrecognized"
)

// Event is one decoded stdout line. Raw holds the line for unrecognized events.
type Event struct {
	Type        EventType
	Progress    int
	CurrentText *string
	Length      int
	Raw         string
}

type wireEvent struct {
	Type        string  `json:"type"`
	Progress    *int    `json:"progress"`
	CurrentText *string `json:"currentText"`
	Length      int     `json:"length"`
}

// ParseLine decodes a single line. It never fails: anything that is not a
// well-formed event comes back as EventUnrecognized.
func ParseLine(line []byte) Event {
	trimmed := bytes.TrimSpace(line)
	unrecognized := Event{Type: EventUnrecognized, Raw: string(trimmed)}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return unrecognized
	}

	var w wireEvent
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return unrecognized
	}
	switch EventType(w.Type) {
	case EventProgress:
		if w.Progress == nil {
			return unrecognized
		}
		return Event{Type: EventProgress, Progress: *w.Progress, CurrentText: w.CurrentText}
	case EventComplete:
		return Event{Type: EventComplete, Length: w.Length}
	default:
		return unrecognized
	}
}

// Decoder is an io.Writer that splits the stream on '\n' and hands each
// complete line's event to handle, in order. A trailing fragment without a
// newline is held until the next Write or Flush.
type Decoder struct {
	mu     sync.Mutex
	buf    []byte
	handle func(Event)
}

func NewDecoder(handle func(Event)) *Decoder {
	return &Decoder{handle: handle}
}

func (d *Decoder) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, p...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.emit(line)
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return len(p), nil
}

// Flush decodes whatever fragment remains. Call it once the stream has ended.
func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.buf) > 0 {
		d.emit(d.buf)
	}
	d.buf = nil
}

func (d *Decoder) emit(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if d.handle != nil {
		d.handle(ParseLine(line))
	}
}
