package repo

import (
	"context"
	"database/sql"
	"sort"

	"lrs/internal/domain"
	"lrs/internal/errors"
)

// EnsureVerb inserts the verb if absent and returns its row id and whether
// this call created it.
func (r Repo) EnsureVerb(ctx context.Context, tx *sql.Tx, verbID, createdAt string) (int64, bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO verbs(verb_id,created_at) VALUES (?,?) ON CONFLICT(verb_id) DO NOTHING`, verbID, createdAt)
	if err != nil {
		return 0, false, errors.Wrap(err, "insert verb")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM verbs WHERE verb_id=?`, verbID).Scan(&id); err != nil {
		return 0, false, errors.Wrap(err, "select verb")
	}
	return id, n == 1, nil
}

// AddVerbDisplays stores labels for languages the verb does not have yet.
func (r Repo) AddVerbDisplays(ctx context.Context, tx *sql.Tx, verbPK int64, display domain.LanguageMap) error {
	langs := make([]string, 0, len(display))
	for lang := range display {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO verb_displays(verb_pk,lang,value) VALUES (?,?,?)`, verbPK, lang, display[lang]); err != nil {
			return errors.Wrap(err, "insert verb display")
		}
	}
	return nil
}

func (r Repo) VerbIDByURI(ctx context.Context, q DBTX, verbID string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM verbs WHERE verb_id=?`, verbID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) GetVerb(ctx context.Context, q DBTX, pk int64) (domain.Verb, error) {
	var v domain.Verb
	err := q.QueryRowContext(ctx, `SELECT verb_id FROM verbs WHERE id=?`, pk).Scan(&v.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Verb{}, ErrNotFound
	}
	if err != nil {
		return domain.Verb{}, errors.Wrap(err, "get verb")
	}
	rows, err := q.QueryContext(ctx, `SELECT lang,value FROM verb_displays WHERE verb_pk=? ORDER BY lang`, pk)
	if err != nil {
		return domain.Verb{}, errors.Wrap(err, "get verb displays")
	}
	defer rows.Close()
	for rows.Next() {
		var lang, value string
		if err := rows.Scan(&lang, &value); err != nil {
			return domain.Verb{}, err
		}
		if v.Display == nil {
			v.Display = domain.LanguageMap{}
		}
		v.Display[lang] = value
	}
	return v, rows.Err()
}

func (r Repo) DeleteVerb(ctx context.Context, tx *sql.Tx, pk int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM verbs WHERE id=?`, pk)
	return errors.Wrap(err, "delete verb")
}
