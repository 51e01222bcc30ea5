package relay

import (
	"context"
	"encoding/json"
	"time"

	"frontdesk/queue-service/internal/hub"
	"frontdesk/queue-service/internal/store"
)

// Store is the slice of the queue store the relay needs: committed
// outbox events in sequence order plus a durable read offset.
type Store interface {
	RelayOffset(ctx context.Context) (int64, error)
	ListOutboxEvents(ctx context.Context, after int64, limit int) ([]store.OutboxEvent, error)
	SetRelayOffset(ctx context.Context, seq int64) error
}

type Broadcaster interface {
	Broadcast(payload []byte, meta hub.Subscription)
}

// Relay pushes committed mutations to connected display surfaces. It
// only ever reads the outbox, so everything it publishes was already
// durably written, and events for one doctor go out in the order their
// transactions committed.
type Relay struct {
	store     Store
	hub       Broadcaster
	batchSize int
}

type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func New(st Store, broadcaster Broadcaster, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:     st,
		hub:       broadcaster,
		batchSize: batchSize,
	}
}

// Run performs one poll pass. Delivery is best effort; the offset only
// advances past events that were handed to the hub.
func (r *Relay) Run(ctx context.Context) (int, error) {
	last, err := r.store.RelayOffset(ctx)
	if err != nil {
		return 0, err
	}

	events, err := r.store.ListOutboxEvents(ctx, last, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	for _, event := range events {
		data, err := json.Marshal(Envelope{
			Type:      event.Type,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			return 0, err
		}
		r.hub.Broadcast(data, hub.Subscription{ClinicID: event.ClinicID, DoctorID: event.DoctorID})
		last = event.Seq
	}

	if err := r.store.SetRelayOffset(ctx, last); err != nil {
		return 0, err
	}
	return len(events), nil
}
