// Package mappers turns provider resources into idempotent upserts against
// the local store. Every mapper finds by external id, then by a natural key,
// then creates; fields present in the payload overwrite local values and
// local-only fields are left alone.
package mappers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/events"
	"github.com/jonathan/ats-sync/internal/jsonapi"
	"github.com/jonathan/ats-sync/internal/teamtailor"
)

// Fetcher is the subset of the provider client mappers need for on-demand
// lookups.
type Fetcher interface {
	Get(ctx context.Context, path string, params url.Values) (*jsonapi.Document, error)
	Paginate(ctx context.Context, path string, params url.Values, visit jsonapi.Visitor) error
}

// SkipError marks a record that cannot be mapped, such as an application
// whose job or candidate does not exist upstream. The caller skips it and
// moves on.
type SkipError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipped %s %s: %s", e.Resource, e.ID, e.Reason)
}

// IsSkip reports whether err is a SkipError.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

func skip(resource, id, format string, args ...any) error {
	return &SkipError{Resource: resource, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// Mapper holds the dependencies shared by every entity mapper.
type Mapper struct {
	store  db.Store
	client Fetcher
	events events.Publisher
	now    func() time.Time
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithPublisher sets the domain event publisher. Defaults to events.Noop.
func WithPublisher(p events.Publisher) Option {
	return func(m *Mapper) { m.events = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) { m.now = now }
}

// New builds a Mapper. client may be nil when no on-demand fetches are
// expected; lookups that need it then skip.
func New(store db.Store, client Fetcher, opts ...Option) *Mapper {
	m := &Mapper{
		store:  store,
		client: client,
		events: events.Noop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the backing store.
func (m *Mapper) Store() db.Store {
	return m.store
}

func (m *Mapper) clock() time.Time {
	return m.now().UTC()
}

// fetchOne loads a single resource, mapping 404 to (nil, nil).
func (m *Mapper) fetchOne(ctx context.Context, path string, params url.Values) (*jsonapi.Resource, jsonapi.Index, error) {
	if m.client == nil {
		return nil, nil, nil
	}
	doc, err := m.client.Get(ctx, path, params)
	if err != nil {
		if teamtailor.IsNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if doc.Data.One == nil {
		return nil, nil, nil
	}
	return doc.Data.One, doc.Index(), nil
}

func (m *Mapper) publish(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = m.clock()
	}
	if err := m.events.Publish(ctx, e); err != nil {
		logger(ctx).Warn().Err(err).Str("topic", e.Topic).Msg("failed to publish event")
	}
}

// resourceFromMap decodes an inline object into a Resource. Flat objects
// without an attributes member become the attributes themselves.
func resourceFromMap(raw map[string]any) *jsonapi.Resource {
	if raw == nil {
		return nil
	}
	if _, ok := raw["attributes"]; !ok {
		r := &jsonapi.Resource{Attributes: jsonapi.Attributes(raw)}
		r.ID = jsonapi.String(raw["id"])
		r.Type = jsonapi.String(raw["type"])
		return r
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var r jsonapi.Resource
	if err := json.Unmarshal(b, &r); err != nil {
		return nil
	}
	return &r
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
