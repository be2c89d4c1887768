package events

import (
	"context"
	"time"
)

const (
	TokenCreated       = "token.created"
	TokenStatusChanged = "token.status_changed"
	SelectionUpserted  = "selection.upserted"
)

// Event is the envelope published to the notification exchange after each
// successful mutation. Consumers (realtime dashboards) key on Type.
type Event struct {
	Type           string    `json:"type"`
	OrganizationID string    `json:"organization_id,omitempty"`
	MemberID       string    `json:"member_id"`
	MemberType     string    `json:"member_type"`
	OccurredAt     time.Time `json:"occurred_at"`
	Payload        any       `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop satisfies Publisher when no broker is configured. The engine's
// correctness never depends on event delivery.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event Event) error { return nil }
func (Noop) Close() error                                   { return nil }
