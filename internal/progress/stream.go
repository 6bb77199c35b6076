package progress

import (
	"context"
	"io"
	"sync"

	"github.com/cochaviz/executor-builder/internal/models"
)

var _ Sink = (*StreamSink)(nil)

// StreamSink writes events as newline-delimited JSON.
type StreamSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamSink returns a sink writing to w.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

// Publish writes one JSON line for the event.
func (s *StreamSink) Publish(_ context.Context, event models.ProgressEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.w.Write(payload)
	return err
}
