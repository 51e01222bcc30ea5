package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"frontdesk/queue-service/internal/hub"
	"frontdesk/queue-service/internal/store"
)

type fakeStore struct {
	offset int64
	events []store.OutboxEvent
	setErr error
}

func (f *fakeStore) RelayOffset(ctx context.Context) (int64, error) {
	return f.offset, nil
}

func (f *fakeStore) ListOutboxEvents(ctx context.Context, after int64, limit int) ([]store.OutboxEvent, error) {
	var out []store.OutboxEvent
	for _, event := range f.events {
		if event.Seq > after && len(out) < limit {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeStore) SetRelayOffset(ctx context.Context, seq int64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.offset = seq
	return nil
}

type captured struct {
	payload []byte
	meta    hub.Subscription
}

type fakeHub struct {
	sent []captured
}

func (f *fakeHub) Broadcast(payload []byte, meta hub.Subscription) {
	f.sent = append(f.sent, captured{payload: payload, meta: meta})
}

func event(seq int64, eventType, clinicID, doctorID string) store.OutboxEvent {
	return store.OutboxEvent{
		Seq:       seq,
		EventID:   "e",
		Type:      eventType,
		ClinicID:  clinicID,
		DoctorID:  doctorID,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestRunPreservesPerDoctorOrder(t *testing.T) {
	st := &fakeStore{events: []store.OutboxEvent{
		event(1, store.EventTicketIssued, "c1", "d1"),
		event(2, store.EventTicketIssued, "c1", "d2"),
		event(3, store.EventTicketCalled, "c1", "d1"),
	}}
	h := &fakeHub{}
	r := New(st, h, 10)

	count, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 events, got %d", count)
	}
	if st.offset != 3 {
		t.Fatalf("expected offset 3, got %d", st.offset)
	}

	var d1Types []string
	for _, c := range h.sent {
		if c.meta.DoctorID != "d1" {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(c.payload, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		d1Types = append(d1Types, env.Type)
	}
	if len(d1Types) != 2 || d1Types[0] != store.EventTicketIssued || d1Types[1] != store.EventTicketCalled {
		t.Fatalf("issued must precede called for one doctor, got %v", d1Types)
	}
}

func TestRunResumesFromOffset(t *testing.T) {
	st := &fakeStore{offset: 2, events: []store.OutboxEvent{
		event(1, store.EventTicketIssued, "c1", "d1"),
		event(2, store.EventTicketIssued, "c1", "d1"),
		event(3, store.EventTicketCalled, "c1", "d1"),
	}}
	h := &fakeHub{}
	r := New(st, h, 10)

	count, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(h.sent))
	}
}

func TestRunNoEventsIsNoop(t *testing.T) {
	st := &fakeStore{offset: 5}
	h := &fakeHub{}
	r := New(st, h, 10)

	count, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 events, got %d", count)
	}
	if st.offset != 5 {
		t.Fatalf("offset must not move on an empty pass, got %d", st.offset)
	}
}

func TestRunRedeliversWhenOffsetWriteFails(t *testing.T) {
	st := &fakeStore{events: []store.OutboxEvent{
		event(1, store.EventTicketIssued, "c1", "d1"),
	}, setErr: errors.New("db down")}
	h := &fakeHub{}
	r := New(st, h, 10)

	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error when offset write fails")
	}

	st.setErr = nil
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	// at-least-once: the event is delivered again after the failed pass
	if len(h.sent) != 2 {
		t.Fatalf("expected redelivery, got %d broadcasts", len(h.sent))
	}
}
