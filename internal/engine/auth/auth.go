package auth

import (
	"context"
	"database/sql"
	"fmt"

	"lrs/internal/errors"
)

// ForbiddenError indicates the caller may not perform an action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Service answers ownership questions inside the caller's transaction.
type Service struct{}

// RequireStatementOwner fails with ForbiddenError unless user stored the
// statement. An empty user is the local operator and always passes; so does a
// statement stored without an owner.
func (s Service) RequireStatementOwner(ctx context.Context, tx *sql.Tx, statementID, user string) error {
	if user == "" {
		return nil
	}
	var owner sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT user_id FROM statements WHERE statement_id=?`, statementID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "statement owner")
	}
	if owner.Valid && owner.String != "" && owner.String != user {
		return ForbiddenError{Action: "delete statement " + statementID}
	}
	return nil
}

// CanRedefine reports whether user may replace the definition of an activity
// whose definition authority is owner.
func CanRedefine(owner, user string) bool {
	return owner == "" || owner == user
}
