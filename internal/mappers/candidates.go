package mappers

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jsonapi"
)

// MapCandidate upserts a candidate by external id, then by email. A matching
// email that is already linked to a different external id is returned
// unchanged rather than relinked.
func (m *Mapper) MapCandidate(ctx context.Context, res *jsonapi.Resource) (*db.Candidate, error) {
	if res == nil || res.ID == "" {
		return nil, skip("candidate", "", "missing id")
	}
	attrs := res.Attributes
	email := db.NormalizeEmail(attrs.String("email", "email_address"))

	c, err := m.store.GetCandidateByTeamtailorID(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up candidate %s: %w", res.ID, err)
	}

	if c == nil && email != "" {
		c, err = m.store.GetCandidateByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to look up candidate by email: %w", err)
		}
		if c != nil && c.TeamtailorID != nil && *c.TeamtailorID != res.ID {
			logger(ctx).Warn().
				Str("teamtailor_id", res.ID).
				Str("linked_teamtailor_id", *c.TeamtailorID).
				Str("candidate_id", c.ID.String()).
				Msg("email already linked to another candidate, keeping existing identity")
			return c, nil
		}
		if c != nil {
			c.TeamtailorID = &res.ID
		}
	}
	if c == nil {
		c = &db.Candidate{TeamtailorID: &res.ID}
	}

	first, last := candidateName(attrs)
	if first != "" {
		c.FirstName = first
	}
	if last != "" {
		c.LastName = last
	}

	if email != "" && email != c.Email {
		owner, err := m.store.GetCandidateByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to look up candidate by email: %w", err)
		}
		if owner == nil || owner.ID == c.ID {
			c.Email = email
		} else {
			logger(ctx).Warn().
				Str("teamtailor_id", res.ID).
				Str("other_candidate_id", owner.ID.String()).
				Msg("email belongs to another candidate, not updating")
		}
	}
	if v := attrs.String("phone", "phone_number"); v != "" {
		c.Phone = &v
	}
	if v := attrs.String("linkedin_url", "linkedin", "linkedin_profile", "profile_url"); v != "" {
		c.ProfileURL = &v
	}

	if c.FirstName == "" {
		c.FirstName = db.PlaceholderFirstName
	}
	if c.LastName == "" {
		c.LastName = db.PlaceholderLastName
	}
	if c.Email == "" {
		c.Email = db.PlaceholderEmail(res.ID)
	}

	if err := m.store.SaveCandidate(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save candidate %s: %w", res.ID, err)
	}
	return c, nil
}

// candidateName prefers discrete name fields and splits a full name when
// either is missing.
func candidateName(attrs jsonapi.Attributes) (first, last string) {
	first = attrs.String("first_name", "given_name")
	last = attrs.String("last_name", "family_name")
	if first != "" && last != "" {
		return first, last
	}

	full := attrs.String("name", "full_name")
	if full == "" {
		return first, last
	}
	parts := strings.Fields(full)
	if first == "" {
		first = parts[0]
	}
	if last == "" && len(parts) > 1 {
		last = strings.Join(parts[1:], " ")
	}
	return first, last
}

// ensureCandidate mirrors ensureJob for candidates.
func (m *Mapper) ensureCandidate(ctx context.Context, teamtailorID string, ix jsonapi.Index) (*db.Candidate, error) {
	c, err := m.store.GetCandidateByTeamtailorID(ctx, teamtailorID)
	if err != nil || c != nil {
		return c, err
	}

	res := ix.Find("candidates", teamtailorID)
	if res == nil {
		res, _, err = m.fetchOne(ctx, "/candidates/"+teamtailorID, nil)
		if err != nil || res == nil {
			return nil, err
		}
	}
	c, err = m.MapCandidate(ctx, res)
	if err != nil {
		return nil, err
	}
	// An identity-guarded match belongs to someone else.
	if c.TeamtailorID == nil || *c.TeamtailorID != teamtailorID {
		return nil, nil
	}
	return c, nil
}
