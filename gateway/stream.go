package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// EventWriter writes server-sent events
type EventWriter struct {
	writer   io.Writer
	flusher  http.Flusher
	sequence int
}

// NewEventWriter creates a new EventWriter. flusher may be nil.
func NewEventWriter(w io.Writer, flusher http.Flusher) *EventWriter {
	return &EventWriter{
		writer:  w,
		flusher: flusher,
	}
}

// WriteEvent writes v as the JSON data of one event of type event
func (w *EventWriter) WriteEvent(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// event: <type>\nid: <seq>\ndata: <json>\n\n
	if event != "" {
		if _, err := fmt.Fprintf(w.writer, "event: %s\n", event); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w.writer, "id: %d\ndata: %s\n\n", w.NextSequence(), data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}

	w.flush()
	return nil
}

// WriteComment writes an SSE comment line, used as a keep-alive
func (w *EventWriter) WriteComment(text string) error {
	if _, err := fmt.Fprintf(w.writer, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}
	w.flush()
	return nil
}

// NextSequence returns the next event id
func (w *EventWriter) NextSequence() int {
	w.sequence++
	return w.sequence
}

func (w *EventWriter) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
