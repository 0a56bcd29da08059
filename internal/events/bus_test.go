package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lotline/auction-checkout/internal/db"
	"github.com/lotline/auction-checkout/internal/events"
)

type stubEventStore struct {
	inserted []db.InsertDomainEventParams
}

func (s *stubEventStore) InsertDomainEvent(_ context.Context, arg db.InsertDomainEventParams) (db.DomainEvent, error) {
	s.inserted = append(s.inserted, arg)
	return db.DomainEvent{Topic: arg.Topic, AggregateID: arg.AggregateID, Payload: arg.Payload}, nil
}

type recordingNotifier struct {
	seen []string
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, ev db.DomainEvent) error {
	n.seen = append(n.seen, ev.Topic)
	return n.err
}

func pgUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

func TestEmitPersistsAndFansOut(t *testing.T) {
	store := &stubEventStore{}
	notifier := &recordingNotifier{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	_, err := bus.Emit(context.Background(), events.TopicPaymentCompleted, pgUUID(), map[string]any{"sessionId": "cs_1"})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected one persisted event, got %d", len(store.inserted))
	}
	if len(notifier.seen) != 1 || notifier.seen[0] != events.TopicPaymentCompleted {
		t.Fatalf("unexpected notifications: %v", notifier.seen)
	}
}

func TestEmitNotifierFailureStillPersists(t *testing.T) {
	store := &stubEventStore{}
	notifier := &recordingNotifier{err: errors.New("sink down")}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	_, err := bus.Emit(context.Background(), events.TopicInvoicePaid, pgUUID(), nil)
	if err == nil {
		t.Fatal("expected joined notifier error")
	}
	if len(store.inserted) != 1 {
		t.Fatal("event must persist even when a notifier fails")
	}
}

func TestEmitRequiresTopicAndAggregate(t *testing.T) {
	bus := &events.Bus{Store: &stubEventStore{}}
	if _, err := bus.Emit(context.Background(), "", pgUUID(), nil); err == nil {
		t.Fatal("expected error for empty topic")
	}
	if _, err := bus.Emit(context.Background(), events.TopicInvoicePaid, pgtype.UUID{}, nil); err == nil {
		t.Fatal("expected error for missing aggregate id")
	}
}

func TestEmitRejectsInvalidJSONPayload(t *testing.T) {
	bus := &events.Bus{Store: &stubEventStore{}}
	if _, err := bus.Emit(context.Background(), events.TopicInvoicePaid, pgUUID(), []byte("{broken")); err == nil {
		t.Fatal("expected invalid payload to be rejected")
	}
}
