package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"lrs/internal/domain"
	"lrs/internal/errors"
)

// ObjectColumns is the discriminant plus the typed reference columns of a
// statement or sub-statement object. Only the column matching Kind is set.
type ObjectColumns struct {
	Kind           domain.ObjectKind
	ActivityID     int64
	AgentID        int64
	SubStatementID int64
	RefID          int64
}

// Column returns the reference column and id selected by Kind.
func (o ObjectColumns) Column() (string, int64) {
	switch o.Kind {
	case domain.ObjectActivity:
		return "object_activity_id", o.ActivityID
	case domain.ObjectAgent:
		return "object_agent_id", o.AgentID
	case domain.ObjectSubStatement:
		return "object_substatement_id", o.SubStatementID
	case domain.ObjectStatementRef:
		return "object_ref_id", o.RefID
	}
	return "", 0
}

type StatementRow struct {
	PK                 int64
	StatementID        string
	ActorID            int64
	VerbPK             int64
	Object             ObjectColumns
	AuthorityID        int64
	Timestamp          string
	Stored             string
	Voided             bool
	Authoritative      bool
	ContextFingerprint string
	User               string
}

type SubStatementRow struct {
	PK        int64
	ActorID   int64
	VerbPK    int64
	Object    ObjectColumns
	Timestamp string
	User      string
}

const statementColumns = `id,statement_id,actor_id,verb_pk,object_kind,object_activity_id,object_agent_id,object_substatement_id,object_ref_id,authority_id,timestamp,stored,voided,authoritative,context_fingerprint,user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (StatementRow, error) {
	var s StatementRow
	var kind string
	var act, agent, sub, ref, authority sql.NullInt64
	var fp, user sql.NullString
	err := row.Scan(&s.PK, &s.StatementID, &s.ActorID, &s.VerbPK, &kind, &act, &agent, &sub, &ref, &authority,
		&s.Timestamp, &s.Stored, &s.Voided, &s.Authoritative, &fp, &user)
	if err != nil {
		return StatementRow{}, err
	}
	s.Object = ObjectColumns{
		Kind:           domain.ObjectKind(kind),
		ActivityID:     act.Int64,
		AgentID:        agent.Int64,
		SubStatementID: sub.Int64,
		RefID:          ref.Int64,
	}
	s.AuthorityID = authority.Int64
	s.ContextFingerprint = fp.String
	s.User = user.String
	return s, nil
}

func (r Repo) InsertStatement(ctx context.Context, tx *sql.Tx, s StatementRow) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO statements(statement_id,actor_id,verb_pk,object_kind,object_activity_id,object_agent_id,object_substatement_id,object_ref_id,authority_id,timestamp,stored,voided,authoritative,context_fingerprint,user_id)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.StatementID, s.ActorID, s.VerbPK, string(s.Object.Kind),
		nullableID(s.Object.ActivityID), nullableID(s.Object.AgentID), nullableID(s.Object.SubStatementID), nullableID(s.Object.RefID),
		nullableID(s.AuthorityID), s.Timestamp, s.Stored, s.Voided, s.Authoritative, nullable(s.ContextFingerprint), nullable(s.User))
	if err != nil {
		return 0, errors.Wrap(err, "insert statement")
	}
	return res.LastInsertId()
}

func (r Repo) GetStatement(ctx context.Context, q DBTX, statementID string) (StatementRow, error) {
	s, err := scanStatement(q.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM statements WHERE statement_id=?`, statementID))
	if errors.Is(err, sql.ErrNoRows) {
		return StatementRow{}, ErrNotFound
	}
	return s, errors.Wrap(err, "get statement")
}

// matchClause selects statements describing the same fact as s: same actor,
// object, authority and context fingerprint.
func matchClause(s StatementRow) (string, []any) {
	col, id := s.Object.Column()
	clause := fmt.Sprintf(`actor_id=? AND object_kind=? AND %s=? AND authority_id IS ? AND context_fingerprint IS ? AND voided=0 AND id<>?`, col)
	return clause, []any{s.ActorID, string(s.Object.Kind), id, nullableID(s.AuthorityID), nullable(s.ContextFingerprint), s.PK}
}

// DemoteMatching clears the authoritative flag of every other non-voided
// statement describing the same fact as s.
func (r Repo) DemoteMatching(ctx context.Context, tx *sql.Tx, s StatementRow) (int64, error) {
	clause, args := matchClause(s)
	res, err := tx.ExecContext(ctx, `UPDATE statements SET authoritative=0 WHERE authoritative=1 AND `+clause, args...)
	if err != nil {
		return 0, errors.Wrap(err, "demote statements")
	}
	return res.RowsAffected()
}

// HasNewerAuthoritative reports whether a statement inserted after s and
// describing the same fact is authoritative.
func (r Repo) HasNewerAuthoritative(ctx context.Context, q DBTX, s StatementRow) (bool, error) {
	clause, args := matchClause(s)
	args = append(args, s.PK)
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM statements WHERE authoritative=1 AND `+clause+` AND id>?`, args...).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "find newer authoritative")
	}
	return n > 0, nil
}

func (r Repo) SetVoided(ctx context.Context, tx *sql.Tx, pk int64, voided bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE statements SET voided=? WHERE id=?`, voided, pk)
	return errors.Wrap(err, "set voided")
}

func (r Repo) SetAuthoritative(ctx context.Context, tx *sql.Tx, pk int64, authoritative bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE statements SET authoritative=? WHERE id=?`, authoritative, pk)
	return errors.Wrap(err, "set authoritative")
}

// CountVoiding counts voiding statements that reference targetID.
func (r Repo) CountVoiding(ctx context.Context, q DBTX, targetID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM statements s
JOIN statement_refs sr ON sr.id=s.object_ref_id
JOIN verbs v ON v.id=s.verb_pk
WHERE v.verb_id=? AND sr.ref_statement_id=?`, domain.VoidedVerbID, targetID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count voiding statements")
	}
	return n, nil
}

func (r Repo) DeleteStatement(ctx context.Context, tx *sql.Tx, pk int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM statements WHERE id=?`, pk)
	return errors.Wrap(err, "delete statement")
}

// StatementFilters narrows ListStatements. Zero values do not filter.
type StatementFilters struct {
	AgentID      int64
	VerbPK       int64
	ActivityPK   int64
	Registration string
	Since        string
	Until        string
	Limit        int
	Ascending    bool
}

// ListStatements returns non-voided statements ordered by stored time.
func (r Repo) ListStatements(ctx context.Context, q DBTX, f StatementFilters) ([]StatementRow, error) {
	clauses := []string{"voided=0"}
	var args []any
	if f.AgentID != 0 {
		clauses = append(clauses, "(actor_id=? OR object_agent_id=?)")
		args = append(args, f.AgentID, f.AgentID)
	}
	if f.VerbPK != 0 {
		clauses = append(clauses, "verb_pk=?")
		args = append(args, f.VerbPK)
	}
	if f.ActivityPK != 0 {
		clauses = append(clauses, "object_activity_id=?")
		args = append(args, f.ActivityPK)
	}
	if f.Registration != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM contexts c WHERE c.statement_pk=statements.id AND c.registration=?)")
		args = append(args, f.Registration)
	}
	if f.Since != "" {
		clauses = append(clauses, "stored>?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "stored<=?")
		args = append(args, f.Until)
	}
	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}
	query := `SELECT ` + statementColumns + ` FROM statements WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY stored %s, id %s`, order, order)
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list statements")
	}
	defer rows.Close()
	var res []StatementRow
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertStatementRef(ctx context.Context, tx *sql.Tx, target string) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO statement_refs(ref_statement_id) VALUES (?)`, target)
	if err != nil {
		return 0, errors.Wrap(err, "insert statement ref")
	}
	return res.LastInsertId()
}

func (r Repo) GetStatementRef(ctx context.Context, q DBTX, pk int64) (string, error) {
	var target string
	err := q.QueryRowContext(ctx, `SELECT ref_statement_id FROM statement_refs WHERE id=?`, pk).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return target, errors.Wrap(err, "get statement ref")
}

func (r Repo) DeleteStatementRef(ctx context.Context, tx *sql.Tx, pk int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM statement_refs WHERE id=?`, pk)
	return errors.Wrap(err, "delete statement ref")
}

func (r Repo) InsertSubStatement(ctx context.Context, tx *sql.Tx, s SubStatementRow) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO substatements(actor_id,verb_pk,object_kind,object_activity_id,object_agent_id,timestamp,user_id) VALUES (?,?,?,?,?,?,?)`,
		s.ActorID, s.VerbPK, string(s.Object.Kind), nullableID(s.Object.ActivityID), nullableID(s.Object.AgentID), nullable(s.Timestamp), nullable(s.User))
	if err != nil {
		return 0, errors.Wrap(err, "insert substatement")
	}
	return res.LastInsertId()
}

func (r Repo) GetSubStatement(ctx context.Context, q DBTX, pk int64) (SubStatementRow, error) {
	var s SubStatementRow
	var kind string
	var act, agent sql.NullInt64
	var ts, user sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,actor_id,verb_pk,object_kind,object_activity_id,object_agent_id,timestamp,user_id FROM substatements WHERE id=?`, pk).
		Scan(&s.PK, &s.ActorID, &s.VerbPK, &kind, &act, &agent, &ts, &user)
	if errors.Is(err, sql.ErrNoRows) {
		return SubStatementRow{}, ErrNotFound
	}
	if err != nil {
		return SubStatementRow{}, errors.Wrap(err, "get substatement")
	}
	s.Object = ObjectColumns{Kind: domain.ObjectKind(kind), ActivityID: act.Int64, AgentID: agent.Int64}
	s.Timestamp, s.User = ts.String, user.String
	return s, nil
}

func (r Repo) DeleteSubStatement(ctx context.Context, tx *sql.Tx, pk int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM substatements WHERE id=?`, pk)
	return errors.Wrap(err, "delete substatement")
}
