package repo

import (
	"context"
	"database/sql"

	"lrs/internal/domain"
	"lrs/internal/errors"
)

// DocumentKey addresses one document. Unused parts are empty strings.
type DocumentKey struct {
	Kind         domain.DocumentKind
	ActivityID   string
	AgentKey     string
	Registration string
	DocID        string
}

func (r Repo) GetDocument(ctx context.Context, q DBTX, k DocumentKey) (domain.Document, error) {
	d := domain.Document{Kind: k.Kind, ActivityID: k.ActivityID, AgentKey: k.AgentKey, Registration: k.Registration, ID: k.DocID}
	var user sql.NullString
	err := q.QueryRowContext(ctx, `SELECT content,content_type,etag,updated,user_id FROM documents
WHERE kind=? AND activity_id=? AND agent_key=? AND registration=? AND doc_id=?`,
		string(k.Kind), k.ActivityID, k.AgentKey, k.Registration, k.DocID).
		Scan(&d.Content, &d.ContentType, &d.ETag, &d.Updated, &user)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, ErrNotFound
	}
	if err != nil {
		return domain.Document{}, errors.Wrap(err, "get document")
	}
	d.User = user.String
	return d, nil
}

// UpsertDocument writes the document content, replacing any existing row.
func (r Repo) UpsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(kind,activity_id,agent_key,registration,doc_id,content,content_type,etag,updated,user_id)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(kind,activity_id,agent_key,registration,doc_id) DO UPDATE SET
  content=excluded.content, content_type=excluded.content_type, etag=excluded.etag, updated=excluded.updated, user_id=excluded.user_id`,
		string(d.Kind), d.ActivityID, d.AgentKey, d.Registration, d.ID, d.Content, d.ContentType, d.ETag, d.Updated, nullable(d.User))
	return errors.Wrap(err, "upsert document")
}

func (r Repo) DeleteDocument(ctx context.Context, tx *sql.Tx, k DocumentKey) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE kind=? AND activity_id=? AND agent_key=? AND registration=? AND doc_id=?`,
		string(k.Kind), k.ActivityID, k.AgentKey, k.Registration, k.DocID)
	if err != nil {
		return 0, errors.Wrap(err, "delete document")
	}
	return res.RowsAffected()
}

// DeleteDocuments removes every document under the owner part of k; DocID
// is ignored.
func (r Repo) DeleteDocuments(ctx context.Context, tx *sql.Tx, k DocumentKey) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE kind=? AND activity_id=? AND agent_key=? AND registration=?`,
		string(k.Kind), k.ActivityID, k.AgentKey, k.Registration)
	if err != nil {
		return 0, errors.Wrap(err, "delete documents")
	}
	return res.RowsAffected()
}

// ListDocumentIDs returns the ids under the owner part of k updated at or
// after since, ordered by id.
func (r Repo) ListDocumentIDs(ctx context.Context, q DBTX, k DocumentKey, since string) ([]string, error) {
	query := `SELECT doc_id FROM documents WHERE kind=? AND activity_id=? AND agent_key=? AND registration=?`
	args := []any{string(k.Kind), k.ActivityID, k.AgentKey, k.Registration}
	if since != "" {
		query += ` AND updated>=?`
		args = append(args, since)
	}
	query += ` ORDER BY doc_id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list documents")
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
