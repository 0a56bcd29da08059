package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertAuditLog = `
INSERT INTO audit_logs (event_type, entity_type, entity_id, metadata)
VALUES ($1, $2, $3, $4)
RETURNING id, event_type, entity_type, entity_id, metadata, created_at
`

// InsertAuditLogParams carries a structured audit record.
type InsertAuditLogParams struct {
	EventType  string
	EntityType string
	EntityID   string
	Metadata   []byte
}

// InsertAuditLog appends an audit record.
func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (AuditLog, error) {
	row := q.db.QueryRow(ctx, insertAuditLog, arg.EventType, arg.EntityType, arg.EntityID, arg.Metadata)
	var a AuditLog
	err := row.Scan(&a.ID, &a.EventType, &a.EntityType, &a.EntityID, &a.Metadata, &a.CreatedAt)
	return a, err
}

const insertDomainEvent = `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at
`

// InsertDomainEventParams carries a domain event for fan-out.
type InsertDomainEventParams struct {
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
}

// InsertDomainEvent persists a domain event.
func (q *Queries) InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	row := q.db.QueryRow(ctx, insertDomainEvent, arg.Topic, arg.AggregateID, arg.Payload)
	var e DomainEvent
	err := row.Scan(&e.ID, &e.Topic, &e.AggregateID, &e.Payload, &e.OccurredAt)
	return e, err
}
