package db

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Email Message Methods
// -----------------------------------------------------------------------------

// GetEmailMessageByTeamtailorID retrieves an email by external ID
func (db *DB) GetEmailMessageByTeamtailorID(ctx context.Context, teamtailorID string) (*EmailMessage, error) {
	var m EmailMessage
	err := db.pool.QueryRow(ctx,
		`SELECT id, teamtailor_id, application_id, direction, status, subject, body,
		        from_address, to_address, sent_at, created_at, updated_at
		 FROM email_messages WHERE teamtailor_id = $1`, teamtailorID,
	).Scan(&m.ID, &m.TeamtailorID, &m.ApplicationID, &m.Direction, &m.Status, &m.Subject,
		&m.Body, &m.FromAddress, &m.ToAddress, &m.SentAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get email message: %w", err)
	}
	return &m, nil
}

// SaveEmailMessage inserts a new email (zero ID) or updates an existing one
func (db *DB) SaveEmailMessage(ctx context.Context, m *EmailMessage) error {
	if m.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO email_messages (teamtailor_id, application_id, direction, status, subject,
			        body, from_address, to_address, sent_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, created_at, updated_at`,
			m.TeamtailorID, m.ApplicationID, m.Direction, m.Status, m.Subject,
			m.Body, m.FromAddress, m.ToAddress, m.SentAt,
		).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return wrapWriteErr("create email message", err)
		}
		return nil
	}

	err := db.pool.QueryRow(ctx,
		`UPDATE email_messages
		 SET application_id = $2, direction = $3, status = $4, subject = $5, body = $6,
		     from_address = $7, to_address = $8, sent_at = $9, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		m.ID, m.ApplicationID, m.Direction, m.Status, m.Subject, m.Body,
		m.FromAddress, m.ToAddress, m.SentAt,
	).Scan(&m.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update email message", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Application Event Methods
// -----------------------------------------------------------------------------

// GetApplicationEventByTeamtailorID retrieves a timeline event by external ID
func (db *DB) GetApplicationEventByTeamtailorID(ctx context.Context, teamtailorID string) (*ApplicationEvent, error) {
	var e ApplicationEvent
	var payloadJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, teamtailor_id, application_id, event_type, summary, payload, occurred_at,
		        created_at, updated_at
		 FROM application_events WHERE teamtailor_id = $1`, teamtailorID,
	).Scan(&e.ID, &e.TeamtailorID, &e.ApplicationID, &e.EventType, &e.Summary, &payloadJSON,
		&e.OccurredAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get application event: %w", err)
	}
	if payloadJSON != nil {
		_ = json.Unmarshal(payloadJSON, &e.Payload)
	}
	return &e, nil
}

// SaveApplicationEvent inserts a new event (zero ID) or updates an existing one
func (db *DB) SaveApplicationEvent(ctx context.Context, e *ApplicationEvent) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	if e.ID == uuid.Nil {
		err := db.pool.QueryRow(ctx,
			`INSERT INTO application_events (teamtailor_id, application_id, event_type, summary,
			        payload, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at, updated_at`,
			e.TeamtailorID, e.ApplicationID, e.EventType, e.Summary, payloadJSON, e.OccurredAt,
		).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return wrapWriteErr("create application event", err)
		}
		return nil
	}

	err = db.pool.QueryRow(ctx,
		`UPDATE application_events
		 SET application_id = $2, event_type = $3, summary = $4, payload = $5,
		     occurred_at = $6, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		e.ID, e.ApplicationID, e.EventType, e.Summary, payloadJSON, e.OccurredAt,
	).Scan(&e.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update application event", err)
	}
	return nil
}
