package mappers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jsonapi"
)

func TestMapCandidate(t *testing.T) {
	m, store, _ := newTestMapper(t, nil)
	ctx := context.Background()

	c, err := m.MapCandidate(ctx, mustResource(t, `{"id":"c-1","type":"candidates","attributes":{
		"first-name":"Ada","last-name":"Lovelace","email":" Ada@Example.COM ","phone":"+44 1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, "Ada Lovelace", c.FullName())

	again, err := m.MapCandidate(ctx, mustResource(t, `{"id":"c-1","type":"candidates","attributes":{"first-name":"Augusta"}}`))
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "Augusta", again.FirstName)
	assert.Equal(t, "Lovelace", again.LastName)
	assert.Equal(t, 1, store.Counts()["candidates"])
}

func TestMapCandidate_LinksByEmail(t *testing.T) {
	m, store, _ := newTestMapper(t, nil)
	ctx := context.Background()

	local := &db.Candidate{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"}
	require.NoError(t, store.SaveCandidate(ctx, local))

	c, err := m.MapCandidate(ctx, mustResource(t, `{"id":"c-9","type":"candidates","attributes":{"email":"GRACE@example.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, local.ID, c.ID)
	require.NotNil(t, c.TeamtailorID)
	assert.Equal(t, "c-9", *c.TeamtailorID)
	assert.Equal(t, "Grace", c.FirstName)
}

func TestMapCandidate_IdentityGuard(t *testing.T) {
	m, _, _ := newTestMapper(t, nil)
	ctx := context.Background()

	first, err := m.MapCandidate(ctx, mustResource(t, `{"id":"c-1","type":"candidates","attributes":{"email":"x@example.com","first-name":"Orig"}}`))
	require.NoError(t, err)

	other, err := m.MapCandidate(ctx, mustResource(t, `{"id":"c-2","type":"candidates","attributes":{"email":"x@example.com","first-name":"Hijack"}}`))
	require.NoError(t, err)
	assert.Equal(t, first.ID, other.ID)
	assert.Equal(t, "c-1", *other.TeamtailorID)
	assert.Equal(t, "Orig", other.FirstName)
}

func TestMapCandidate_Placeholders(t *testing.T) {
	m, _, _ := newTestMapper(t, nil)

	c, err := m.MapCandidate(context.Background(), mustResource(t, `{"id":"42","type":"candidates","attributes":{}}`))
	require.NoError(t, err)
	assert.Equal(t, db.PlaceholderFirstName, c.FirstName)
	assert.Equal(t, db.PlaceholderLastName, c.LastName)
	assert.Equal(t, "unknown-42@teamtailor.invalid", c.Email)
	assert.True(t, c.HasPlaceholderEmail())
}

func TestCandidateName(t *testing.T) {
	tests := []struct {
		name      string
		attrs     jsonapi.Attributes
		wantFirst string
		wantLast  string
	}{
		{"discrete", jsonapi.Attributes{"first_name": "Ada", "last_name": "Lovelace"}, "Ada", "Lovelace"},
		{"full name split", jsonapi.Attributes{"name": "Ada King Lovelace"}, "Ada", "King Lovelace"},
		{"single token", jsonapi.Attributes{"name": "Cher"}, "Cher", ""},
		{"keeps discrete first", jsonapi.Attributes{"first-name": "Ada", "name": "Augusta Lovelace"}, "Ada", "Lovelace"},
		{"nothing", jsonapi.Attributes{}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := candidateName(tt.attrs)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}
