package repo

import (
	"context"
	"database/sql"

	"lrs/internal/domain"
	"lrs/internal/errors"
)

// Owner names the statement or sub-statement that owns a result or context.
// Exactly one field is non-zero.
type Owner struct {
	StatementPK    int64
	SubStatementPK int64
}

func (o Owner) where() (string, int64) {
	if o.SubStatementPK != 0 {
		return "substatement_pk=?", o.SubStatementPK
	}
	return "statement_pk=?", o.StatementPK
}

func (r Repo) InsertResult(ctx context.Context, tx *sql.Tx, owner Owner, res domain.Result) error {
	ext, err := nullableJSON(res.Extensions)
	if err != nil {
		return errors.Wrap(err, "encode result extensions")
	}
	var scaled, raw, min, max *float64
	if res.Score != nil {
		scaled, raw, min, max = res.Score.Scaled, res.Score.Raw, res.Score.Min, res.Score.Max
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO results(statement_pk,substatement_pk,success,completion,response,duration,score_scaled,score_raw,score_min,score_max,extensions_json)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		nullableID(owner.StatementPK), nullableID(owner.SubStatementPK), nullableBool(res.Success), nullableBool(res.Completion),
		nullable(res.Response), nullable(res.Duration), nullableFloat(scaled), nullableFloat(raw), nullableFloat(min), nullableFloat(max), ext)
	return errors.Wrap(err, "insert result")
}

// GetResult returns the owner's result or nil when it has none.
func (r Repo) GetResult(ctx context.Context, q DBTX, owner Owner) (*domain.Result, error) {
	where, id := owner.where()
	var res domain.Result
	var success, completion sql.NullInt64
	var response, duration, ext sql.NullString
	var scaled, raw, min, max sql.NullFloat64
	err := q.QueryRowContext(ctx, `SELECT success,completion,response,duration,score_scaled,score_raw,score_min,score_max,extensions_json FROM results WHERE `+where, id).
		Scan(&success, &completion, &response, &duration, &scaled, &raw, &min, &max, &ext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get result")
	}
	res.Success, res.Completion = boolPtr(success), boolPtr(completion)
	res.Response, res.Duration = response.String, duration.String
	if scaled.Valid || raw.Valid || min.Valid || max.Valid {
		res.Score = &domain.Score{Scaled: floatPtr(scaled), Raw: floatPtr(raw), Min: floatPtr(min), Max: floatPtr(max)}
	}
	if res.Extensions, err = decodeExtensions(ext); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r Repo) DeleteResult(ctx context.Context, tx *sql.Tx, owner Owner) error {
	where, id := owner.where()
	_, err := tx.ExecContext(ctx, `DELETE FROM results WHERE `+where, id)
	return errors.Wrap(err, "delete result")
}

// ContextRow is a stored context with its shared-entity references as row ids.
type ContextRow struct {
	PK             int64
	Registration   string
	InstructorID   int64
	TeamID         int64
	Revision       string
	Platform       string
	Language       string
	StatementRefID string
	Extensions     map[string]any
	Activities     []ContextActivityRow
}

type ContextActivityRow struct {
	Key        string
	ActivityPK int64
}

func (r Repo) InsertContext(ctx context.Context, tx *sql.Tx, owner Owner, c ContextRow) (int64, error) {
	ext, err := nullableJSON(c.Extensions)
	if err != nil {
		return 0, errors.Wrap(err, "encode context extensions")
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO contexts(statement_pk,substatement_pk,registration,instructor_id,team_id,revision,platform,language,statement_ref_id,extensions_json)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		nullableID(owner.StatementPK), nullableID(owner.SubStatementPK), nullable(c.Registration), nullableID(c.InstructorID), nullableID(c.TeamID),
		nullable(c.Revision), nullable(c.Platform), nullable(c.Language), nullable(c.StatementRefID), ext)
	if err != nil {
		return 0, errors.Wrap(err, "insert context")
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for i, a := range c.Activities {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO context_activities(context_id,key,activity_pk,position) VALUES (?,?,?,?)`,
			pk, a.Key, a.ActivityPK, i); err != nil {
			return 0, errors.Wrap(err, "insert context activity")
		}
	}
	return pk, nil
}

// GetContext returns the owner's context or nil when it has none.
func (r Repo) GetContext(ctx context.Context, q DBTX, owner Owner) (*ContextRow, error) {
	where, id := owner.where()
	var c ContextRow
	var reg, rev, platform, lang, ref, ext sql.NullString
	var instructor, team sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT id,registration,instructor_id,team_id,revision,platform,language,statement_ref_id,extensions_json FROM contexts WHERE `+where, id).
		Scan(&c.PK, &reg, &instructor, &team, &rev, &platform, &lang, &ref, &ext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get context")
	}
	c.Registration, c.Revision, c.Platform, c.Language, c.StatementRefID = reg.String, rev.String, platform.String, lang.String, ref.String
	c.InstructorID, c.TeamID = instructor.Int64, team.Int64
	if c.Extensions, err = decodeExtensions(ext); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT key,activity_pk FROM context_activities WHERE context_id=? ORDER BY key, position`, c.PK)
	if err != nil {
		return nil, errors.Wrap(err, "get context activities")
	}
	defer rows.Close()
	for rows.Next() {
		var a ContextActivityRow
		if err := rows.Scan(&a.Key, &a.ActivityPK); err != nil {
			return nil, err
		}
		c.Activities = append(c.Activities, a)
	}
	return &c, rows.Err()
}

func (r Repo) DeleteContext(ctx context.Context, tx *sql.Tx, owner Owner) error {
	where, id := owner.where()
	_, err := tx.ExecContext(ctx, `DELETE FROM contexts WHERE `+where, id)
	return errors.Wrap(err, "delete context")
}
