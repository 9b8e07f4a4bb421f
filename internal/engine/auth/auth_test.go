package auth

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lrs/internal/errors"
)

const ownerQuery = `SELECT user_id FROM statements WHERE statement_id=?`

func beginMock(t *testing.T) (*sql.Tx, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	mock.ExpectBegin()
	tx, err := conn.Begin()
	require.NoError(t, err)
	return tx, mock
}

func TestRequireStatementOwner(t *testing.T) {
	ctx := context.Background()
	tx, mock := beginMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(ownerQuery)).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("lms"))
	mock.ExpectQuery(regexp.QuoteMeta(ownerQuery)).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("lms"))
	mock.ExpectQuery(regexp.QuoteMeta(ownerQuery)).WithArgs("s2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta(ownerQuery)).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	var s Service
	require.NoError(t, s.RequireStatementOwner(ctx, tx, "s1", "lms"))
	var forbidden ForbiddenError
	require.ErrorAs(t, s.RequireStatementOwner(ctx, tx, "s1", "intruder"), &forbidden)
	assert.Equal(t, "delete statement s1", forbidden.Action)
	assert.NoError(t, s.RequireStatementOwner(ctx, tx, "s2", "intruder"), "unowned statements are open")
	assert.NoError(t, s.RequireStatementOwner(ctx, tx, "missing", "intruder"))
	assert.NoError(t, s.RequireStatementOwner(ctx, tx, "s1", ""), "the operator skips the lookup")
}

func TestRequireStatementOwnerWrapsDriverError(t *testing.T) {
	tx, mock := beginMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(ownerQuery)).WillReturnError(errors.New("database is locked"))

	err := Service{}.RequireStatementOwner(context.Background(), tx, "s1", "lms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement owner")
	var forbidden ForbiddenError
	assert.False(t, errors.As(err, &forbidden))
}

func TestCanRedefine(t *testing.T) {
	assert.True(t, CanRedefine("", "anyone"))
	assert.True(t, CanRedefine("lms", "lms"))
	assert.False(t, CanRedefine("lms", "other"))
}
