package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"lrs/internal/domain"
	"lrs/internal/errors"
)

// ActivityRow is a stored activity plus the user that defined it.
type ActivityRow struct {
	PK            int64
	Activity      domain.Activity
	AuthorityUser string
}

func encodeDefinition(def *domain.ActivityDefinition) (any, error) {
	if def == nil {
		return nil, nil
	}
	b, err := json.Marshal(def)
	if err != nil {
		return nil, errors.Wrap(err, "encode definition")
	}
	return string(b), nil
}

// EnsureActivity inserts the activity if absent and returns its row id and
// whether this call created it.
func (r Repo) EnsureActivity(ctx context.Context, tx *sql.Tx, a domain.Activity, user, createdAt string) (int64, bool, error) {
	def, err := encodeDefinition(a.Definition)
	if err != nil {
		return 0, false, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO activities(activity_id,definition_json,authority_user,created_at) VALUES (?,?,?,?)
ON CONFLICT(activity_id) DO NOTHING`, a.ID, def, nullable(user), createdAt)
	if err != nil {
		return 0, false, errors.Wrap(err, "insert activity")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM activities WHERE activity_id=?`, a.ID).Scan(&id); err != nil {
		return 0, false, errors.Wrap(err, "select activity")
	}
	return id, n == 1, nil
}

// ReplaceDefinition overwrites the stored definition and records its author.
func (r Repo) ReplaceDefinition(ctx context.Context, tx *sql.Tx, pk int64, def *domain.ActivityDefinition, user string) error {
	enc, err := encodeDefinition(def)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE activities SET definition_json=?, authority_user=? WHERE id=?`, enc, nullable(user), pk)
	return errors.Wrap(err, "replace definition")
}

func scanActivity(row *sql.Row) (ActivityRow, error) {
	var out ActivityRow
	var def, user sql.NullString
	err := row.Scan(&out.PK, &out.Activity.ID, &def, &user)
	if errors.Is(err, sql.ErrNoRows) {
		return ActivityRow{}, ErrNotFound
	}
	if err != nil {
		return ActivityRow{}, errors.Wrap(err, "scan activity")
	}
	out.Activity.ObjectType = string(domain.ObjectActivity)
	out.AuthorityUser = user.String
	if def.Valid && def.String != "" {
		var d domain.ActivityDefinition
		if err := json.Unmarshal([]byte(def.String), &d); err != nil {
			return ActivityRow{}, errors.Wrap(err, "decode definition")
		}
		out.Activity.Definition = &d
	}
	return out, nil
}

func (r Repo) GetActivity(ctx context.Context, q DBTX, pk int64) (ActivityRow, error) {
	return scanActivity(q.QueryRowContext(ctx, `SELECT id,activity_id,definition_json,authority_user FROM activities WHERE id=?`, pk))
}

func (r Repo) GetActivityByURI(ctx context.Context, q DBTX, activityID string) (ActivityRow, error) {
	return scanActivity(q.QueryRowContext(ctx, `SELECT id,activity_id,definition_json,authority_user FROM activities WHERE activity_id=?`, activityID))
}

func (r Repo) DeleteActivity(ctx context.Context, tx *sql.Tx, pk int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id=?`, pk)
	return errors.Wrap(err, "delete activity")
}
