package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"

	"lrs/internal/repo"
)

// contextFingerprint condenses a resolved context into a short hash so two
// statements can be compared for context equivalence in SQL. Shared entities
// contribute their row ids, so contexts naming the same agent or activity in
// different spellings compare equal. A statement without context has an
// empty fingerprint.
func contextFingerprint(c *repo.ContextRow) string {
	if c == nil {
		return ""
	}
	activities := make([]repo.ContextActivityRow, len(c.Activities))
	copy(activities, c.Activities)
	sort.Slice(activities, func(i, j int) bool {
		if activities[i].Key != activities[j].Key {
			return activities[i].Key < activities[j].Key
		}
		return activities[i].ActivityPK < activities[j].ActivityPK
	})
	canonical := struct {
		Registration string                    `json:"registration"`
		Instructor   int64                     `json:"instructor"`
		Team         int64                     `json:"team"`
		Revision     string                    `json:"revision"`
		Platform     string                    `json:"platform"`
		Language     string                    `json:"language"`
		Statement    string                    `json:"statement"`
		Extensions   map[string]any            `json:"extensions"`
		Activities   []repo.ContextActivityRow `json:"activities"`
	}{c.Registration, c.InstructorID, c.TeamID, c.Revision, c.Platform, c.Language, c.StatementRefID, c.Extensions, activities}
	b, _ := json.Marshal(canonical)
	sum := xxh3.Hash128(b)
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo)
}

// claimAuthority makes s the sole authoritative statement among the
// non-voided statements that share its actor, object, authority and context.
func (e Engine) claimAuthority(ctx context.Context, tx *sql.Tx, s repo.StatementRow) error {
	n, err := e.Repo.DemoteMatching(ctx, tx, s)
	if err != nil {
		return err
	}
	if n > 0 {
		e.log().Debugw("statements demoted", "by", s.StatementID, "count", n)
	}
	return nil
}

// reconcileAuthority runs after s becomes visible again. If a newer matching
// statement already holds authority s steps down; otherwise s is the newest
// authoritative one and the older ones step down.
func (e Engine) reconcileAuthority(ctx context.Context, tx *sql.Tx, s repo.StatementRow) error {
	if !s.Authoritative {
		return nil
	}
	newer, err := e.Repo.HasNewerAuthoritative(ctx, tx, s)
	if err != nil {
		return err
	}
	if newer {
		e.log().Debugw("restored statement demoted", "statement", s.StatementID)
		return e.Repo.SetAuthoritative(ctx, tx, s.PK, false)
	}
	return e.claimAuthority(ctx, tx, s)
}
