package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"lrs/internal/domain"
	"lrs/internal/errors"
	"lrs/internal/repo"
)

// StoreStatement validates s, resolves everything it references and stores
// it on behalf of user. The statement becomes the authoritative record of
// its fact; a voiding statement marks its target voided.
func (e Engine) StoreStatement(ctx context.Context, s domain.Statement, user string) (domain.Statement, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Statement{}, err
	}
	defer tx.Rollback()
	stored, err := e.storeStatement(ctx, tx, s, user)
	if err != nil {
		return domain.Statement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Statement{}, errors.Wrap(err, "commit")
	}
	e.log().Infow("statement stored", "id", stored.ID, "verb", stored.Verb.ID, "voiding", stored.IsVoiding(), "user", user)
	return stored, nil
}

// StoreStatements stores a batch atomically. Either every statement is
// stored or none is.
func (e Engine) StoreStatements(ctx context.Context, batch []domain.Statement, user string) ([]string, error) {
	if len(batch) == 0 {
		return nil, domain.ValidationError{Field: "statements", Reason: "at least one statement is required"}
	}
	seen := map[string]bool{}
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return nil, err
		}
		if batch[i].ID == "" {
			continue
		}
		id := strings.ToLower(batch[i].ID)
		if seen[id] {
			return nil, domain.ValidationError{Field: "id", Reason: "duplicate statement id " + id + " in batch"}
		}
		seen[id] = true
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	ids := make([]string, 0, len(batch))
	for _, s := range batch {
		stored, err := e.storeStatement(ctx, tx, s, user)
		if err != nil {
			return nil, err
		}
		ids = append(ids, stored.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	e.log().Infow("statements stored", "count", len(ids), "user", user)
	return ids, nil
}

func (e Engine) storeStatement(ctx context.Context, tx *sql.Tx, s domain.Statement, user string) (domain.Statement, error) {
	if err := s.Validate(); err != nil {
		return domain.Statement{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	} else {
		s.ID = uuid.MustParse(s.ID).String()
	}
	if s.Object.Kind == domain.ObjectStatementRef {
		s.Object = domain.RefObject(uuid.MustParse(s.Object.StatementRef.ID).String())
	}
	now := domain.FormatTime(e.now())
	s.Stored = now
	if s.Timestamp == "" {
		s.Timestamp = now
	} else {
		ts, err := domain.NormalizeTimestamp(s.Timestamp)
		if err != nil {
			return domain.Statement{}, domain.ValidationError{Field: "timestamp", Reason: err.Error()}
		}
		s.Timestamp = ts
	}

	if _, err := e.Repo.GetStatement(ctx, tx, s.ID); err == nil {
		return domain.Statement{}, domain.ConflictError{ID: s.ID}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Statement{}, err
	}

	var target repo.StatementRow
	if s.IsVoiding() {
		var err error
		if target, err = e.voidTarget(ctx, tx, s.Object.StatementRef.ID); err != nil {
			return domain.Statement{}, err
		}
	}

	actorID, _, err := e.resolveAgent(ctx, tx, s.Actor, now)
	if err != nil {
		return domain.Statement{}, err
	}
	verbPK, _, err := e.resolveVerb(ctx, tx, s.Verb, now)
	if err != nil {
		return domain.Statement{}, err
	}
	obj, err := e.storeObject(ctx, tx, s.Object, user, now, false)
	if err != nil {
		return domain.Statement{}, err
	}
	var authorityID int64
	if s.Authority != nil {
		if authorityID, _, err = e.resolveAgent(ctx, tx, *s.Authority, now); err != nil {
			return domain.Statement{}, err
		}
	}
	var ctxRow *repo.ContextRow
	if s.Context != nil {
		if ctxRow, err = e.buildContext(ctx, tx, *s.Context, user, now); err != nil {
			return domain.Statement{}, err
		}
	}

	row := repo.StatementRow{
		StatementID:        s.ID,
		ActorID:            actorID,
		VerbPK:             verbPK,
		Object:             obj,
		AuthorityID:        authorityID,
		Timestamp:          s.Timestamp,
		Stored:             now,
		Authoritative:      true,
		ContextFingerprint: contextFingerprint(ctxRow),
		User:               user,
	}
	if row.PK, err = e.Repo.InsertStatement(ctx, tx, row); err != nil {
		return domain.Statement{}, err
	}
	owner := repo.Owner{StatementPK: row.PK}
	if ctxRow != nil {
		if _, err := e.Repo.InsertContext(ctx, tx, owner, *ctxRow); err != nil {
			return domain.Statement{}, err
		}
	}
	if s.Result != nil {
		if err := e.Repo.InsertResult(ctx, tx, owner, *s.Result); err != nil {
			return domain.Statement{}, err
		}
	}
	if err := e.claimAuthority(ctx, tx, row); err != nil {
		return domain.Statement{}, err
	}
	if s.IsVoiding() {
		if err := e.Repo.SetVoided(ctx, tx, target.PK, true); err != nil {
			return domain.Statement{}, err
		}
		e.log().Debugw("statement voided", "target", target.StatementID, "by", s.ID)
	}
	s.Voided = false
	s.Authoritative = true
	s.User = user
	return s, nil
}

// voidTarget loads the statement a voiding statement points at. Voiding
// statements themselves cannot be voided.
func (e Engine) voidTarget(ctx context.Context, tx *sql.Tx, targetID string) (repo.StatementRow, error) {
	target, err := e.Repo.GetStatement(ctx, tx, targetID)
	if err != nil {
		return repo.StatementRow{}, notFound(err, "statement", targetID)
	}
	verb, err := e.Repo.GetVerb(ctx, tx, target.VerbPK)
	if err != nil {
		return repo.StatementRow{}, err
	}
	if verb.ID == domain.VoidedVerbID {
		return repo.StatementRow{}, domain.ValidationError{Field: "object.id", Reason: "a voiding statement cannot be voided"}
	}
	return target, nil
}

// GetStatement returns the statement with id. With voided false a voided
// statement is reported missing; with voided true only a voided statement is
// returned.
func (e Engine) GetStatement(ctx context.Context, id string, voided bool) (domain.Statement, error) {
	id = canonicalID(id)
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Statement{}, err
	}
	defer tx.Rollback()
	row, err := e.Repo.GetStatement(ctx, tx, id)
	if err != nil {
		return domain.Statement{}, notFound(err, "statement", id)
	}
	if row.Voided != voided {
		return domain.Statement{}, domain.NotFoundError{Kind: "statement", ID: id}
	}
	s, err := e.loadStatement(ctx, tx, row)
	if err != nil {
		return domain.Statement{}, err
	}
	return s, tx.Commit()
}

// canonicalID lowercases well-formed statement ids so lookups match the
// stored form. Other input is returned unchanged and simply matches nothing.
func canonicalID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return id
}

func (e Engine) loadStatement(ctx context.Context, q repo.DBTX, row repo.StatementRow) (domain.Statement, error) {
	s := domain.Statement{
		ID:            row.StatementID,
		Timestamp:     row.Timestamp,
		Stored:        row.Stored,
		Voided:        row.Voided,
		Authoritative: row.Authoritative,
		User:          row.User,
	}
	var err error
	if s.Actor, err = e.Repo.GetAgent(ctx, q, row.ActorID); err != nil {
		return domain.Statement{}, err
	}
	if s.Verb, err = e.Repo.GetVerb(ctx, q, row.VerbPK); err != nil {
		return domain.Statement{}, err
	}
	if s.Object, err = e.loadObject(ctx, q, row.Object); err != nil {
		return domain.Statement{}, err
	}
	if row.AuthorityID != 0 {
		a, err := e.Repo.GetAgent(ctx, q, row.AuthorityID)
		if err != nil {
			return domain.Statement{}, err
		}
		s.Authority = &a
	}
	owner := repo.Owner{StatementPK: row.PK}
	if s.Result, err = e.Repo.GetResult(ctx, q, owner); err != nil {
		return domain.Statement{}, err
	}
	if s.Context, err = e.loadContext(ctx, q, owner); err != nil {
		return domain.Statement{}, err
	}
	return s, nil
}

// StatementQuery filters ListStatements. Zero values do not filter.
type StatementQuery struct {
	Agent        *domain.Agent
	VerbID       string
	ActivityID   string
	Registration string
	Since        string
	Until        string
	Limit        int
	Ascending    bool
}

// ListStatements returns the non-voided statements matching q, newest first
// unless q.Ascending is set. Filters naming an unknown entity match nothing.
func (e Engine) ListStatements(ctx context.Context, q StatementQuery) ([]domain.Statement, error) {
	f := repo.StatementFilters{Registration: q.Registration, Ascending: q.Ascending, Limit: q.Limit}
	switch {
	case f.Limit <= 0:
		f.Limit = e.Config.Statements.DefaultLimit
	case f.Limit > e.Config.Statements.MaxLimit:
		f.Limit = e.Config.Statements.MaxLimit
	}
	var err error
	if q.Since != "" {
		if f.Since, err = domain.NormalizeTimestamp(q.Since); err != nil {
			return nil, domain.ValidationError{Field: "since", Reason: "must be RFC 3339"}
		}
	}
	if q.Until != "" {
		if f.Until, err = domain.NormalizeTimestamp(q.Until); err != nil {
			return nil, domain.ValidationError{Field: "until", Reason: "must be RFC 3339"}
		}
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if q.Agent != nil {
		if f.AgentID, err = e.lookupAgent(ctx, tx, *q.Agent); err != nil {
			return emptyIfMissing(err)
		}
	}
	if q.VerbID != "" {
		if f.VerbPK, err = e.Repo.VerbIDByURI(ctx, tx, q.VerbID); err != nil {
			return emptyIfMissing(err)
		}
	}
	if q.ActivityID != "" {
		row, err := e.Repo.GetActivityByURI(ctx, tx, q.ActivityID)
		if err != nil {
			return emptyIfMissing(err)
		}
		f.ActivityPK = row.PK
	}
	rows, err := e.Repo.ListStatements(ctx, tx, f)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Statement, 0, len(rows))
	for _, row := range rows {
		s, err := e.loadStatement(ctx, tx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, tx.Commit()
}

func emptyIfMissing(err error) ([]domain.Statement, error) {
	if errors.Is(err, repo.ErrNotFound) {
		return []domain.Statement{}, nil
	}
	return nil, err
}

// lookupAgent finds the stored agent for a without creating it.
func (e Engine) lookupAgent(ctx context.Context, q repo.DBTX, a domain.Agent) (int64, error) {
	key, err := a.IdentityKey()
	if err != nil {
		return 0, err
	}
	if a.Account != nil {
		id, err := e.Repo.AgentIDByAccount(ctx, q, a.TypeName(), a.Account.HomePage, a.Account.Name)
		if err == nil || !errors.Is(err, repo.ErrNotFound) {
			return id, err
		}
	}
	return e.Repo.AgentIDByKey(ctx, q, key)
}

// GetActivity returns the stored activity with the given IRI.
func (e Engine) GetActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	row, err := e.Repo.GetActivityByURI(ctx, e.DB, activityID)
	if err != nil {
		return domain.Activity{}, notFound(err, "activity", activityID)
	}
	return row.Activity, nil
}

// GetPerson returns the identifiers stored for the agent matching a.
func (e Engine) GetPerson(ctx context.Context, a domain.Agent) (domain.Person, error) {
	id, err := e.lookupAgent(ctx, e.DB, a)
	if err != nil {
		key, _ := a.IdentityKey()
		return domain.Person{}, notFound(err, "agent", key)
	}
	stored, err := e.Repo.GetAgent(ctx, e.DB, id)
	if err != nil {
		return domain.Person{}, err
	}
	p := domain.Person{ObjectType: "Person"}
	if stored.Name != "" {
		p.Name = []string{stored.Name}
	}
	if stored.Mbox != "" {
		p.Mbox = []string{stored.Mbox}
	}
	if stored.MboxSHA1Sum != "" {
		p.MboxSHA1Sum = []string{stored.MboxSHA1Sum}
	}
	if stored.OpenID != "" {
		p.OpenID = []string{stored.OpenID}
	}
	if stored.Account != nil {
		p.Account = []domain.Account{*stored.Account}
	}
	return p, nil
}
