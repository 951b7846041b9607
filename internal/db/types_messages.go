package db

import (
	"time"

	"github.com/google/uuid"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message statuses
const (
	MessageStatusSent     = "sent"
	MessageStatusFailed   = "failed"
	MessageStatusQueued   = "queued"
	MessageStatusReceived = "received"
)

// EmailMessage is an email exchanged about an application
type EmailMessage struct {
	ID            uuid.UUID  `json:"id"`
	TeamtailorID  *string    `json:"teamtailor_id,omitempty"`
	ApplicationID uuid.UUID  `json:"application_id"`
	Direction     string     `json:"direction"`
	Status        string     `json:"status"`
	Subject       *string    `json:"subject,omitempty"`
	Body          *string    `json:"body,omitempty"`
	FromAddress   *string    `json:"from_address,omitempty"`
	ToAddress     *string    `json:"to_address,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ApplicationEvent is a non-email timeline entry (notes, calls, system events)
type ApplicationEvent struct {
	ID            uuid.UUID      `json:"id"`
	TeamtailorID  *string        `json:"teamtailor_id,omitempty"`
	ApplicationID uuid.UUID      `json:"application_id"`
	EventType     string         `json:"event_type"`
	Summary       *string        `json:"summary,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    *time.Time     `json:"occurred_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
