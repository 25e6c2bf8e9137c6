package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// Envelope is the wire form of a published event
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

// Encode wraps a domain event into an envelope and serializes it
func Encode(source string, event shared.DomainEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event.EventType(), err)
	}
	return json.Marshal(Envelope{
		ID:            event.EventID(),
		Type:          event.EventType(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		OccurredAt:    event.OccurredAt().UTC(),
		Source:        source,
		Payload:       payload,
	})
}
