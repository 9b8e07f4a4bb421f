package repo_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lrs/internal/errors"
	"lrs/internal/repo"
)

const apiKeySelect = `SELECT id, user_id, COALESCE(name,''), key_hash, created_at FROM api_keys`

func newMockRepo(t *testing.T) (repo.Repo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return repo.Repo{DB: conn}, mock
}

func TestGetAPIKeyByHash(t *testing.T) {
	r, mock := newMockRepo(t)
	hash := repo.HashAPIKey("lrs_secret")
	mock.ExpectQuery(regexp.QuoteMeta(apiKeySelect + ` WHERE key_hash=? LIMIT 1`)).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "key_hash", "created_at"}).
			AddRow("k1", "lms", "grader", hash, "2024-01-01T00:00:00.000Z"))

	key, err := r.GetAPIKeyByHash(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, "k1", key.ID)
	assert.Equal(t, "lms", key.User)
	assert.Equal(t, "grader", key.Name)
}

func TestGetAPIKeyByHashMissing(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(apiKeySelect)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "key_hash", "created_at"}))

	_, err := r.GetAPIKeyByHash(context.Background(), "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListAPIKeysFiltersByUser(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(apiKeySelect + ` WHERE user_id=? ORDER BY created_at DESC`)).
		WithArgs("lms").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "key_hash", "created_at"}).
			AddRow("k2", "lms", "", "h2", "2024-01-02T00:00:00.000Z").
			AddRow("k1", "lms", "grader", "h1", "2024-01-01T00:00:00.000Z"))

	keys, err := r.ListAPIKeys(context.Background(), "lms")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k2", keys[0].ID)
	assert.Empty(t, keys[0].Name)
}

func TestDeleteAPIKey(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM api_keys WHERE id=?`)).
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM api_keys WHERE id=?`)).
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.DeleteAPIKey(context.Background(), "k1"))
	assert.ErrorIs(t, r.DeleteAPIKey(context.Background(), "k1"), repo.ErrNotFound)
	assert.Error(t, r.DeleteAPIKey(context.Background(), " "))
}

func TestDeleteAPIKeyWrapsDriverError(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM api_keys`)).
		WillReturnError(errors.New("database is locked"))

	err := r.DeleteAPIKey(context.Background(), "k1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repo.ErrNotFound)
	assert.Contains(t, err.Error(), "delete api key")
}
