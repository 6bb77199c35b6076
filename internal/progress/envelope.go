package progress

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cochaviz/executor-builder/internal/models"
)

type eventEnvelope struct {
	ID          string       `json:"id"`
	BuildID     string       `json:"build_id,omitempty"`
	RecipientID string       `json:"recipient_id"`
	Phase       models.Phase `json:"phase"`
	Payload     any          `json:"payload"`
	Timestamp   time.Time    `json:"timestamp"`
}

func encodeEvent(event models.ProgressEvent) ([]byte, error) {
	payload, err := json.Marshal(eventEnvelope{
		ID:          event.ID,
		BuildID:     event.BuildID,
		RecipientID: event.RecipientID,
		Phase:       event.Phase,
		Payload:     event.Payload(),
		Timestamp:   event.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}
