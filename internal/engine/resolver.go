package engine

import (
	"context"
	"database/sql"

	"lrs/internal/domain"
	"lrs/internal/engine/auth"
	"lrs/internal/errors"
	"lrs/internal/repo"
)

// ResolveAgent returns the stored agent matching a, creating it when no
// stored agent shares its identity.
func (e Engine) ResolveAgent(ctx context.Context, a domain.Agent) (domain.Agent, bool, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Agent{}, false, err
	}
	defer tx.Rollback()
	id, created, err := e.resolveAgent(ctx, tx, a, domain.FormatTime(e.now()))
	if err != nil {
		return domain.Agent{}, false, err
	}
	stored, err := e.Repo.GetAgent(ctx, tx, id)
	if err != nil {
		return domain.Agent{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, false, errors.Wrap(err, "commit")
	}
	return stored, created, nil
}

// ResolveVerb returns the stored verb with v's id, creating it if needed.
// Display labels for languages the stored verb lacks are added.
func (e Engine) ResolveVerb(ctx context.Context, v domain.Verb) (domain.Verb, bool, error) {
	if err := v.Validate(); err != nil {
		return domain.Verb{}, false, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Verb{}, false, err
	}
	defer tx.Rollback()
	pk, created, err := e.resolveVerb(ctx, tx, v, domain.FormatTime(e.now()))
	if err != nil {
		return domain.Verb{}, false, err
	}
	stored, err := e.Repo.GetVerb(ctx, tx, pk)
	if err != nil {
		return domain.Verb{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Verb{}, false, errors.Wrap(err, "commit")
	}
	return stored, created, nil
}

// ResolveActivity returns the stored activity with a's id, creating it if
// needed. user is recorded as the definition authority of new activities.
func (e Engine) ResolveActivity(ctx context.Context, a domain.Activity, user string) (domain.Activity, bool, error) {
	if err := a.Validate("activity"); err != nil {
		return domain.Activity{}, false, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Activity{}, false, err
	}
	defer tx.Rollback()
	pk, created, err := e.resolveActivity(ctx, tx, a, user, domain.FormatTime(e.now()))
	if err != nil {
		return domain.Activity{}, false, err
	}
	row, err := e.Repo.GetActivity(ctx, tx, pk)
	if err != nil {
		return domain.Activity{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Activity{}, false, errors.Wrap(err, "commit")
	}
	return row.Activity, created, nil
}

// resolveAgent finds or creates a inside tx. An account binding wins over
// the identity key so an account always maps to the agent it was first
// bound to. Agents and groups bind accounts separately. Group members are
// resolved recursively and attached; identified groups accumulate the union
// of members seen across statements.
func (e Engine) resolveAgent(ctx context.Context, tx *sql.Tx, a domain.Agent, now string) (int64, bool, error) {
	key, err := a.IdentityKey()
	if err != nil {
		return 0, false, err
	}
	var id int64
	created := false
	if a.Account != nil {
		id, err = e.Repo.AgentIDByAccount(ctx, tx, a.TypeName(), a.Account.HomePage, a.Account.Name)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return 0, false, err
		}
	}
	if id == 0 {
		if created, err = e.Repo.InsertAgent(ctx, tx, key, a, now); err != nil {
			return 0, false, err
		}
		if id, err = e.Repo.AgentIDByKey(ctx, tx, key); err != nil {
			return 0, false, errors.Wrap(err, "select agent")
		}
		if a.Account != nil {
			if err := e.Repo.BindAccount(ctx, tx, id, a.TypeName(), *a.Account); err != nil {
				return 0, false, err
			}
		}
	}
	if a.IsGroup() {
		for _, m := range a.Member {
			mid, _, err := e.resolveAgent(ctx, tx, m, now)
			if err != nil {
				return 0, false, err
			}
			if err := e.Repo.AddGroupMember(ctx, tx, id, mid); err != nil {
				return 0, false, err
			}
		}
	}
	e.log().Debugw("agent resolved", "key", key, "id", id, "created", created)
	return id, created, nil
}

func (e Engine) resolveVerb(ctx context.Context, tx *sql.Tx, v domain.Verb, now string) (int64, bool, error) {
	pk, created, err := e.Repo.EnsureVerb(ctx, tx, v.ID, now)
	if err != nil {
		return 0, false, err
	}
	if err := e.Repo.AddVerbDisplays(ctx, tx, pk, v.Display); err != nil {
		return 0, false, err
	}
	e.log().Debugw("verb resolved", "verb", v.ID, "id", pk, "created", created)
	return pk, created, nil
}

// resolveActivity finds or creates a. A supplied definition replaces the
// stored one only when user holds definition authority for the activity.
func (e Engine) resolveActivity(ctx context.Context, tx *sql.Tx, a domain.Activity, user, now string) (int64, bool, error) {
	pk, created, err := e.Repo.EnsureActivity(ctx, tx, a, user, now)
	if err != nil {
		return 0, false, err
	}
	if created || a.Definition == nil {
		e.log().Debugw("activity resolved", "activity", a.ID, "id", pk, "created", created)
		return pk, created, nil
	}
	row, err := e.Repo.GetActivity(ctx, tx, pk)
	if err != nil {
		return 0, false, err
	}
	if auth.CanRedefine(row.AuthorityUser, user) {
		if err := e.Repo.ReplaceDefinition(ctx, tx, pk, a.Definition, user); err != nil {
			return 0, false, err
		}
		e.log().Debugw("activity definition replaced", "activity", a.ID, "user", user)
	} else {
		e.log().Debugw("activity definition ignored", "activity", a.ID, "user", user, "owner", row.AuthorityUser)
	}
	return pk, false, nil
}
