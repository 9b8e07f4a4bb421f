package repo_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lrs/internal/domain"
	"lrs/internal/errors"
	"lrs/internal/repo"
)

var statementCols = []string{
	"id", "statement_id", "actor_id", "verb_pk", "object_kind", "object_activity_id", "object_agent_id",
	"object_substatement_id", "object_ref_id", "authority_id", "timestamp", "stored", "voided",
	"authoritative", "context_fingerprint", "user_id",
}

func TestGetStatementMapsNullableColumns(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM statements WHERE statement_id=?`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(statementCols).
			AddRow(7, "s1", 1, 2, "Activity", 3, nil, nil, nil, nil,
				"2024-01-01T00:00:00.000Z", "2024-01-01T00:00:01.000Z", false, true, nil, nil))

	s, err := r.GetStatement(context.Background(), r.DB, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.PK)
	assert.Equal(t, domain.ObjectKind("Activity"), s.Object.Kind)
	assert.Equal(t, int64(3), s.Object.ActivityID)
	assert.Zero(t, s.Object.AgentID)
	assert.Zero(t, s.AuthorityID)
	assert.True(t, s.Authoritative)
	assert.Empty(t, s.ContextFingerprint)
	assert.Empty(t, s.User)
}

func TestGetStatementMissing(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM statements WHERE statement_id=?`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(statementCols))

	_, err := r.GetStatement(context.Background(), r.DB, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestGetStatementWrapsDriverError(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM statements`)).
		WillReturnError(errors.New("disk I/O error"))

	_, err := r.GetStatement(context.Background(), r.DB, "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repo.ErrNotFound)
	assert.Contains(t, err.Error(), "get statement")
}

func TestCountReferences(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM statements WHERE actor_id=?`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM substatements WHERE verb_pk=?`)).
		WithArgs(int64(9)).
		WillReturnError(errors.New("no such table"))

	n, err := r.CountReferences(context.Background(), r.DB, "statements", "actor_id", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = r.CountReferences(context.Background(), r.DB, "substatements", "verb_pk", 9)
	assert.ErrorContains(t, err, "count substatements.verb_pk")
}
