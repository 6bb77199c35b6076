// Package progress publishes build lifecycle events to an observer.
package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/executor-builder/internal/models"
)

const defaultPublishTimeout = 5 * time.Second

// Sink delivers progress events to an external notification channel.
type Sink interface {
	Publish(ctx context.Context, event models.ProgressEvent) error
}

// Reporter addresses the events of one build run to one recipient.
//
// Publication is fire-and-forget: failures are logged and never returned.
type Reporter struct {
	sink      Sink
	recipient string
	buildID   string
	logger    *slog.Logger

	PublishTimeout time.Duration
}

// NewReporter returns a reporter for a build. A nil sink or an empty recipient
// yields a reporter that publishes nothing.
func NewReporter(sink Sink, recipient, buildID string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		sink:      sink,
		recipient: recipient,
		buildID:   buildID,
		logger:    logger,
	}
}

// Enabled reports whether events reach an observer.
func (r *Reporter) Enabled() bool {
	return r != nil && r.sink != nil && r.recipient != ""
}

// Report publishes a text payload in the given phase.
func (r *Reporter) Report(ctx context.Context, phase models.Phase, output string) {
	r.publish(ctx, models.ProgressEvent{Phase: phase, Output: output})
}

// ReportExit publishes the terminal done event carrying the exit code.
func (r *Reporter) ReportExit(ctx context.Context, code int) {
	r.publish(ctx, models.ProgressEvent{Phase: models.PhaseDone, ExitCode: &code})
}

func (r *Reporter) publish(ctx context.Context, event models.ProgressEvent) {
	if !r.Enabled() {
		return
	}

	event.ID = uuid.NewString()
	event.BuildID = r.buildID
	event.RecipientID = r.recipient
	event.Timestamp = time.Now().UTC()

	timeout := r.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	// Events about a cancelled build still go out.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := r.sink.Publish(publishCtx, event); err != nil {
		r.logger.Warn("progress event not delivered",
			"phase", event.Phase,
			"recipient", r.recipient,
			"error", err,
		)
	}
}
