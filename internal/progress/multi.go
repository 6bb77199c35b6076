package progress

import (
	"context"
	"errors"

	"github.com/cochaviz/executor-builder/internal/models"
)

// MultiSink fans every event out to each of its sinks.
type MultiSink []Sink

var _ Sink = MultiSink(nil)

// Publish delivers the event to every sink and joins their errors.
func (m MultiSink) Publish(ctx context.Context, event models.ProgressEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns nil for no sinks, the sink itself for one, and a MultiSink otherwise.
func Combine(sinks ...Sink) Sink {
	var present MultiSink
	for _, sink := range sinks {
		if sink != nil {
			present = append(present, sink)
		}
	}
	switch len(present) {
	case 0:
		return nil
	case 1:
		return present[0]
	default:
		return present
	}
}
