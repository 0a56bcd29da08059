package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"

	"github.com/lotline/auction-checkout/internal/db"
)

// Event is the structured record the core emits on every state change.
type Event struct {
	Type       string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, arg db.InsertAuditLogParams) (db.AuditLog, error)
}

// Service persists audit records. It is fire-and-forget from the caller's
// perspective: a failed write must never roll back the business mutation, so
// callers log the returned error and move on.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record persists an audit record when auditing is enabled.
func (s Service) Record(ctx context.Context, ev Event) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	eventType := strings.TrimSpace(ev.Type)
	if eventType == "" {
		return errors.New("audit: event type is required")
	}
	entityType := strings.TrimSpace(ev.EntityType)
	if entityType == "" {
		entityType = "unknown"
	}

	var metadata []byte
	if len(ev.Metadata) > 0 {
		encoded, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		metadata = encoded
	}

	_, err := s.Store.InsertAuditLog(ctx, db.InsertAuditLogParams{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   strings.TrimSpace(ev.EntityID),
		Metadata:   metadata,
	})
	return err
}
