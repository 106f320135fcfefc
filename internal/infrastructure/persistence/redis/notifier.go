package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

// Notifier pushes domain events to Redis pub/sub so that every display
// surface watching a subject sees the award the moment it commits.
// Each event is published twice: to the subject's own channel and to
// the type-wide channel used by monitoring consumers.
type Notifier struct {
	client *Client
}

// NewNotifier creates a Notifier over an established client.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// Notify publishes one domain event.
func (n *Notifier) Notify(ctx context.Context, event shared.Event) error {
	envelope, err := buildEnvelope(event)
	if err != nil {
		return err
	}

	if err := n.client.Publish(ctx, SubjectChannel(event.AggregateID()), envelope); err != nil {
		return fmt.Errorf("notifier: subject channel publish failed: %w", err)
	}
	if err := n.client.Publish(ctx, EventChannel(string(event.EventType())), envelope); err != nil {
		return fmt.Errorf("notifier: event channel publish failed: %w", err)
	}
	return nil
}

func buildEnvelope(event shared.Event) (*shared.EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	envelope := &shared.EventEnvelope{
		ID:          uuid.NewString(),
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = time.Now()
	}
	return envelope, nil
}
