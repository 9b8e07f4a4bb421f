package engine

import (
	"context"
	"database/sql"
	"strconv"

	"lrs/internal/domain"
	"lrs/internal/errors"
	"lrs/internal/repo"
)

// ResolveObject dereferences the object of a stored statement and reports
// which variant it is.
func (e Engine) ResolveObject(ctx context.Context, statementID string) (domain.StatementObject, domain.ObjectKind, error) {
	statementID = canonicalID(statementID)
	row, err := e.Repo.GetStatement(ctx, e.DB, statementID)
	if err != nil {
		return domain.StatementObject{}, "", notFound(err, "statement", statementID)
	}
	obj, err := e.loadObject(ctx, e.DB, row.Object)
	if err != nil {
		return domain.StatementObject{}, "", err
	}
	return obj, obj.Kind, nil
}

// storeObject resolves o into shared entities and returns the typed
// reference columns. Inside a sub-statement only Activity and Agent objects
// are accepted.
func (e Engine) storeObject(ctx context.Context, tx *sql.Tx, o domain.StatementObject, user, now string, nested bool) (repo.ObjectColumns, error) {
	cols := repo.ObjectColumns{Kind: o.Kind}
	if nested && o.Kind != domain.ObjectActivity && o.Kind != domain.ObjectAgent {
		return cols, domain.ValidationError{Field: "object.object", Reason: "a sub-statement object must be an Activity, Agent or Group"}
	}
	var err error
	switch o.Kind {
	case domain.ObjectActivity:
		cols.ActivityID, _, err = e.resolveActivity(ctx, tx, *o.Activity, user, now)
	case domain.ObjectAgent:
		cols.AgentID, _, err = e.resolveAgent(ctx, tx, *o.Agent, now)
	case domain.ObjectSubStatement:
		cols.SubStatementID, err = e.storeSubStatement(ctx, tx, *o.SubStatement, user, now)
	case domain.ObjectStatementRef:
		cols.RefID, err = e.Repo.InsertStatementRef(ctx, tx, o.StatementRef.ID)
	default:
		return cols, domain.ValidationError{Field: "object", Reason: "object is required"}
	}
	return cols, err
}

func (e Engine) storeSubStatement(ctx context.Context, tx *sql.Tx, s domain.SubStatement, user, now string) (int64, error) {
	actorID, _, err := e.resolveAgent(ctx, tx, s.Actor, now)
	if err != nil {
		return 0, err
	}
	verbPK, _, err := e.resolveVerb(ctx, tx, s.Verb, now)
	if err != nil {
		return 0, err
	}
	obj, err := e.storeObject(ctx, tx, s.Object, user, now, true)
	if err != nil {
		return 0, err
	}
	var ctxRow *repo.ContextRow
	if s.Context != nil {
		if ctxRow, err = e.buildContext(ctx, tx, *s.Context, user, now); err != nil {
			return 0, err
		}
	}
	ts := ""
	if s.Timestamp != "" {
		if ts, err = domain.NormalizeTimestamp(s.Timestamp); err != nil {
			return 0, domain.ValidationError{Field: "object.timestamp", Reason: err.Error()}
		}
	}
	pk, err := e.Repo.InsertSubStatement(ctx, tx, repo.SubStatementRow{ActorID: actorID, VerbPK: verbPK, Object: obj, Timestamp: ts, User: user})
	if err != nil {
		return 0, err
	}
	owner := repo.Owner{SubStatementPK: pk}
	if ctxRow != nil {
		if _, err := e.Repo.InsertContext(ctx, tx, owner, *ctxRow); err != nil {
			return 0, err
		}
	}
	if s.Result != nil {
		if err := e.Repo.InsertResult(ctx, tx, owner, *s.Result); err != nil {
			return 0, err
		}
	}
	return pk, nil
}

// loadObject walks the variants in precedence order and dereferences the
// first one whose typed column is populated and whose target exists.
func (e Engine) loadObject(ctx context.Context, q repo.DBTX, cols repo.ObjectColumns) (domain.StatementObject, error) {
	for _, kind := range domain.ObjectPrecedence {
		if cols.Kind != kind {
			continue
		}
		switch kind {
		case domain.ObjectActivity:
			if cols.ActivityID == 0 {
				continue
			}
			row, err := e.Repo.GetActivity(ctx, q, cols.ActivityID)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return domain.StatementObject{}, err
			}
			return domain.ActivityObject(row.Activity), nil
		case domain.ObjectAgent:
			if cols.AgentID == 0 {
				continue
			}
			a, err := e.Repo.GetAgent(ctx, q, cols.AgentID)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return domain.StatementObject{}, err
			}
			return domain.AgentObject(a), nil
		case domain.ObjectSubStatement:
			if cols.SubStatementID == 0 {
				continue
			}
			s, err := e.loadSubStatement(ctx, q, cols.SubStatementID)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return domain.StatementObject{}, err
			}
			return domain.SubStatementObject(s), nil
		case domain.ObjectStatementRef:
			if cols.RefID == 0 {
				continue
			}
			target, err := e.Repo.GetStatementRef(ctx, q, cols.RefID)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return domain.StatementObject{}, err
			}
			return domain.RefObject(target), nil
		}
	}
	_, id := cols.Column()
	return domain.StatementObject{}, domain.NotFoundError{Kind: "object " + string(cols.Kind), ID: strconv.FormatInt(id, 10)}
}

func (e Engine) loadSubStatement(ctx context.Context, q repo.DBTX, pk int64) (domain.SubStatement, error) {
	row, err := e.Repo.GetSubStatement(ctx, q, pk)
	if err != nil {
		return domain.SubStatement{}, err
	}
	var s domain.SubStatement
	if s.Actor, err = e.Repo.GetAgent(ctx, q, row.ActorID); err != nil {
		return domain.SubStatement{}, err
	}
	if s.Verb, err = e.Repo.GetVerb(ctx, q, row.VerbPK); err != nil {
		return domain.SubStatement{}, err
	}
	if s.Object, err = e.loadObject(ctx, q, row.Object); err != nil {
		return domain.SubStatement{}, err
	}
	owner := repo.Owner{SubStatementPK: pk}
	if s.Result, err = e.Repo.GetResult(ctx, q, owner); err != nil {
		return domain.SubStatement{}, err
	}
	if s.Context, err = e.loadContext(ctx, q, owner); err != nil {
		return domain.SubStatement{}, err
	}
	s.Timestamp = row.Timestamp
	return s, nil
}

// buildContext resolves the shared entities a context references and returns
// the row to store for it.
func (e Engine) buildContext(ctx context.Context, tx *sql.Tx, c domain.Context, user, now string) (*repo.ContextRow, error) {
	row := &repo.ContextRow{
		Registration: c.Registration,
		Revision:     c.Revision,
		Platform:     c.Platform,
		Language:     c.Language,
		Extensions:   c.Extensions,
	}
	var err error
	if c.Instructor != nil {
		if row.InstructorID, _, err = e.resolveAgent(ctx, tx, *c.Instructor, now); err != nil {
			return nil, err
		}
	}
	if c.Team != nil {
		if row.TeamID, _, err = e.resolveAgent(ctx, tx, *c.Team, now); err != nil {
			return nil, err
		}
	}
	if c.Statement != nil {
		row.StatementRefID = c.Statement.ID
	}
	for _, key := range domain.ContextActivityKeys {
		for _, a := range c.ContextActivities[key] {
			pk, _, err := e.resolveActivity(ctx, tx, a, user, now)
			if err != nil {
				return nil, err
			}
			row.Activities = append(row.Activities, repo.ContextActivityRow{Key: key, ActivityPK: pk})
		}
	}
	return row, nil
}

func (e Engine) loadContext(ctx context.Context, q repo.DBTX, owner repo.Owner) (*domain.Context, error) {
	row, err := e.Repo.GetContext(ctx, q, owner)
	if err != nil || row == nil {
		return nil, err
	}
	c := &domain.Context{
		Registration: row.Registration,
		Revision:     row.Revision,
		Platform:     row.Platform,
		Language:     row.Language,
		Extensions:   row.Extensions,
	}
	if row.InstructorID != 0 {
		a, err := e.Repo.GetAgent(ctx, q, row.InstructorID)
		if err != nil {
			return nil, err
		}
		c.Instructor = &a
	}
	if row.TeamID != 0 {
		a, err := e.Repo.GetAgent(ctx, q, row.TeamID)
		if err != nil {
			return nil, err
		}
		c.Team = &a
	}
	if row.StatementRefID != "" {
		c.Statement = &domain.StatementRef{ObjectType: string(domain.ObjectStatementRef), ID: row.StatementRefID}
	}
	for _, ca := range row.Activities {
		a, err := e.Repo.GetActivity(ctx, q, ca.ActivityPK)
		if err != nil {
			return nil, err
		}
		if c.ContextActivities == nil {
			c.ContextActivities = map[string]domain.ActivityList{}
		}
		c.ContextActivities[ca.Key] = append(c.ContextActivities[ca.Key], a.Activity)
	}
	return c, nil
}
