package mappers

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jsonapi"
	"github.com/jonathan/ats-sync/internal/teamtailor"
)

const (
	eventTypeExternal = "external_event"
	summaryLength     = 280
)

// MessageResult holds whichever record a message mapped to.
type MessageResult struct {
	Email *db.EmailMessage
	Event *db.ApplicationEvent
}

// MapMessage upserts a message as an email or a timeline event. The owning
// application must already be synced.
func (m *Mapper) MapMessage(ctx context.Context, res *jsonapi.Resource) (*MessageResult, error) {
	if res == nil || res.ID == "" {
		return nil, skip("message", "", "missing id")
	}
	appTT := res.RelID("application", "job_application")
	if appTT == "" {
		return nil, skip("message", res.ID, "no application reference")
	}
	app, err := m.store.GetApplicationByTeamtailorID(ctx, appTT)
	if err != nil {
		return nil, fmt.Errorf("failed to look up application %s: %w", appTT, err)
	}
	if app == nil {
		return nil, skip("message", res.ID, "application %s not synced", appTT)
	}

	attrs := res.Attributes
	out := &MessageResult{}
	if IsEmailLike(attrs) {
		out.Email, err = m.upsertEmail(ctx, app, res.ID, attrs)
	} else {
		out.Event, err = m.upsertEvent(ctx, app, res.ID, attrs)
	}
	if err != nil {
		return nil, err
	}

	syncedAt := attrs.Time("updated_at", "created_at")
	if syncedAt == nil {
		now := m.clock()
		syncedAt = &now
	}
	if err := m.store.MarkApplicationStateSynced(ctx, app.ID, *syncedAt); err != nil {
		return nil, fmt.Errorf("failed to mark application synced: %w", err)
	}
	return out, nil
}

// IsEmailLike reports whether a message payload describes an email.
func IsEmailLike(attrs jsonapi.Attributes) bool {
	if attrs.Has("subject", "body", "body_html", "from", "from_address") {
		return true
	}
	kind := attrs.String("type", "message_type", "kind", "communication_type")
	return strings.Contains(strings.ToLower(kind), "email")
}

func (m *Mapper) upsertEmail(ctx context.Context, app *db.Application, teamtailorID string, attrs jsonapi.Attributes) (*db.EmailMessage, error) {
	msg, err := m.store.GetEmailMessageByTeamtailorID(ctx, teamtailorID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up email %s: %w", teamtailorID, err)
	}
	if msg == nil {
		msg = &db.EmailMessage{TeamtailorID: &teamtailorID}
	}
	msg.ApplicationID = app.ID

	msg.Direction = MessageDirection(attrs.String("direction", "type"))
	msg.Status = MessageStatus(attrs.String("status"), msg.Direction)
	if v := attrs.String("from", "from_address", "sender"); v != "" {
		msg.FromAddress = &v
	}
	if v := attrs.String("to", "to_address", "recipient"); v != "" {
		msg.ToAddress = &v
	}
	if v := attrs.String("subject", "title"); v != "" {
		msg.Subject = &v
	}
	if v := attrs.String("body_html", "body", "content"); v != "" {
		msg.Body = &v
	}
	if t := attrs.Time("sent_at", "created_at"); t != nil {
		msg.SentAt = t
	}
	if msg.Subject == nil {
		s := "Teamtailor message"
		msg.Subject = &s
	}

	if err := m.store.SaveEmailMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save email %s: %w", teamtailorID, err)
	}
	return msg, nil
}

func (m *Mapper) upsertEvent(ctx context.Context, app *db.Application, teamtailorID string, attrs jsonapi.Attributes) (*db.ApplicationEvent, error) {
	ev, err := m.store.GetApplicationEventByTeamtailorID(ctx, teamtailorID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up event %s: %w", teamtailorID, err)
	}
	if ev == nil {
		ev = &db.ApplicationEvent{TeamtailorID: &teamtailorID}
	}
	ev.ApplicationID = app.ID

	ev.EventType = eventTypeExternal
	if v := attrs.String("event_type", "activity_type", "code"); v != "" {
		ev.EventType = v
	}
	summary := attrs.String("title", "subject", "summary")
	if summary == "" {
		summary = teamtailor.Excerpt(teamtailor.PlainText(attrs.String("body", "content", "text")), summaryLength)
	}
	if summary == "" {
		summary = "Teamtailor activity"
	}
	ev.Summary = &summary

	occurred := attrs.Time("occurred_at", "created_at")
	if occurred == nil && ev.OccurredAt == nil {
		now := m.clock()
		occurred = &now
	}
	if occurred != nil {
		ev.OccurredAt = occurred
	}

	payload := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		payload[k] = v
	}
	payload["teamtailor_id"] = teamtailorID
	ev.Payload = payload

	if err := m.store.SaveApplicationEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to save event %s: %w", teamtailorID, err)
	}
	return ev, nil
}

// MessageDirection is inbound for inbound/incoming/received keywords and
// outbound otherwise.
func MessageDirection(value string) string {
	v := strings.ToLower(value)
	if strings.Contains(v, "inbound") || strings.Contains(v, "incoming") || strings.Contains(v, "received") {
		return db.DirectionInbound
	}
	return db.DirectionOutbound
}

// MessageStatus maps a provider status. Without a recognized keyword inbound
// messages are received and outbound ones sent.
func MessageStatus(value, direction string) string {
	v := strings.ToLower(value)
	switch {
	case strings.Contains(v, "failed"):
		return db.MessageStatusFailed
	case strings.Contains(v, "queued"):
		return db.MessageStatusQueued
	case strings.Contains(v, "received"), strings.Contains(v, "inbound"):
		return db.MessageStatusReceived
	case v == "" && direction == db.DirectionInbound:
		return db.MessageStatusReceived
	default:
		return db.MessageStatusSent
	}
}
