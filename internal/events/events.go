// Package events publishes domain events about synced applications so that
// outbound consumers (notifications, webhooks) can react without polling the
// database.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Topics
const (
	TopicApplicationCreated      = "application.created"
	TopicApplicationStageChanged = "application.stage_changed"
)

// Topics lists every topic the sync engine publishes.
var Topics = []string{TopicApplicationCreated, TopicApplicationStageChanged}

// Event is one domain event.
type Event struct {
	ID            string     `json:"id"`
	Topic         string     `json:"topic"`
	ApplicationID uuid.UUID  `json:"application_id"`
	TeamtailorID  string     `json:"teamtailor_id,omitempty"`
	JobPostingID  uuid.UUID  `json:"job_posting_id"`
	CandidateID   uuid.UUID  `json:"candidate_id"`
	FromStageID   *uuid.UUID `json:"from_stage_id,omitempty"`
	ToStageID     *uuid.UUID `json:"to_stage_id,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Marshal encodes the event payload.
func (e *Event) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

// Unmarshal decodes an event payload.
func Unmarshal(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &e, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events, optionally filtered by topic.
func (r *Recorder) Events(topic string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if topic == "" || e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
