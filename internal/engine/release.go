package engine

import (
	"context"
	"database/sql"

	"lrs/internal/domain"
	"lrs/internal/errors"
	"lrs/internal/repo"
)

type entityKind string

const (
	kindAgent        entityKind = "agent"
	kindVerb         entityKind = "verb"
	kindActivity     entityKind = "activity"
	kindSubStatement entityKind = "substatement"
	kindStatementRef entityKind = "statement_ref"
)

// usageRole is one relation whose rows keep an entity alive.
type usageRole struct {
	Name   string
	Table  string
	Column string
}

// usageRoles lists, per entity kind, every relation that may reference an
// instance. An entity is released only when none of its roles counts a row.
// Counting happens after the releasing owner has been deleted, so an
// instance never counts the reference being dropped.
var usageRoles = map[entityKind][]usageRole{
	kindAgent: {
		{"statement actor", "statements", "actor_id"},
		{"statement authority", "statements", "authority_id"},
		{"statement object", "statements", "object_agent_id"},
		{"sub-statement actor", "substatements", "actor_id"},
		{"sub-statement object", "substatements", "object_agent_id"},
		{"context instructor", "contexts", "instructor_id"},
		{"context team", "contexts", "team_id"},
		{"group member", "group_members", "member_id"},
	},
	kindVerb: {
		{"statement verb", "statements", "verb_pk"},
		{"sub-statement verb", "substatements", "verb_pk"},
	},
	kindActivity: {
		{"statement object", "statements", "object_activity_id"},
		{"sub-statement object", "substatements", "object_activity_id"},
		{"context activity", "context_activities", "activity_pk"},
	},
	kindSubStatement: {
		{"statement object", "statements", "object_substatement_id"},
	},
	kindStatementRef: {
		{"statement object", "statements", "object_ref_id"},
	},
}

type entityRef struct {
	Kind entityKind
	ID   int64
}

// ReleaseReport counts the shared entities removed by a deletion.
type ReleaseReport struct {
	Agents        int `json:"agents"`
	Verbs         int `json:"verbs"`
	Activities    int `json:"activities"`
	SubStatements int `json:"substatements"`
}

func (r *ReleaseReport) add(kind entityKind) {
	switch kind {
	case kindAgent:
		r.Agents++
	case kindVerb:
		r.Verbs++
	case kindActivity:
		r.Activities++
	case kindSubStatement:
		r.SubStatements++
	}
}

// DeleteStatement removes a statement and every shared entity no longer
// referenced once it is gone. Deleting a voiding statement restores its
// target when no other voiding statement still points at it. Only the user
// that stored the statement may delete it; an empty user is the local
// operator.
func (e Engine) DeleteStatement(ctx context.Context, statementID, user string) (ReleaseReport, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return ReleaseReport{}, err
	}
	defer tx.Rollback()
	statementID = canonicalID(statementID)
	row, err := e.Repo.GetStatement(ctx, tx, statementID)
	if err != nil {
		return ReleaseReport{}, notFound(err, "statement", statementID)
	}
	if err := e.Auth.RequireStatementOwner(ctx, tx, statementID, user); err != nil {
		return ReleaseReport{}, err
	}
	verb, err := e.Repo.GetVerb(ctx, tx, row.VerbPK)
	if err != nil {
		return ReleaseReport{}, err
	}
	if verb.ID == domain.VoidedVerbID && row.Object.Kind == domain.ObjectStatementRef {
		if err := e.unvoidTarget(ctx, tx, row); err != nil {
			return ReleaseReport{}, err
		}
	}
	report, err := e.releaseStatement(ctx, tx, row)
	if err != nil {
		return ReleaseReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReleaseReport{}, errors.Wrap(err, "commit")
	}
	e.log().Infow("statement deleted", "id", statementID, "user", user,
		"agents", report.Agents, "verbs", report.Verbs, "activities", report.Activities, "substatements", report.SubStatements)
	return report, nil
}

// unvoidTarget clears the voided flag of the statement v voids unless
// another voiding statement still references it.
func (e Engine) unvoidTarget(ctx context.Context, tx *sql.Tx, v repo.StatementRow) error {
	targetID, err := e.Repo.GetStatementRef(ctx, tx, v.Object.RefID)
	if err != nil {
		return err
	}
	n, err := e.Repo.CountVoiding(ctx, tx, targetID)
	if err != nil {
		return err
	}
	if n > 1 {
		return nil
	}
	target, err := e.Repo.GetStatement(ctx, tx, targetID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !target.Voided {
		return nil
	}
	if err := e.Repo.SetVoided(ctx, tx, target.PK, false); err != nil {
		return err
	}
	target.Voided = false
	e.log().Debugw("statement restored", "target", targetID, "by", v.StatementID)
	return e.reconcileAuthority(ctx, tx, target)
}

// releaseStatement deletes the statement row with its owned context and
// result, then walks the entities it referenced and removes the unused ones.
func (e Engine) releaseStatement(ctx context.Context, tx *sql.Tx, row repo.StatementRow) (ReleaseReport, error) {
	w := worklist{e: e, tx: tx, done: map[entityRef]bool{}}
	obj, err := objectEntity(row.Object)
	if err != nil {
		return ReleaseReport{}, err
	}
	w.push(entityRef{kindAgent, row.ActorID}, entityRef{kindVerb, row.VerbPK}, obj, entityRef{kindAgent, row.AuthorityID})
	owner := repo.Owner{StatementPK: row.PK}
	if err := w.dropOwned(ctx, owner); err != nil {
		return ReleaseReport{}, err
	}
	if err := e.Repo.DeleteStatement(ctx, tx, row.PK); err != nil {
		return ReleaseReport{}, err
	}
	if err := w.run(ctx); err != nil {
		return ReleaseReport{}, err
	}
	return w.report, nil
}

// objectEntity maps the object columns onto the entity they reference,
// checking variants in precedence order.
func objectEntity(cols repo.ObjectColumns) (entityRef, error) {
	for _, kind := range domain.ObjectPrecedence {
		if cols.Kind != kind {
			continue
		}
		switch kind {
		case domain.ObjectActivity:
			if cols.ActivityID != 0 {
				return entityRef{kindActivity, cols.ActivityID}, nil
			}
		case domain.ObjectAgent:
			if cols.AgentID != 0 {
				return entityRef{kindAgent, cols.AgentID}, nil
			}
		case domain.ObjectSubStatement:
			if cols.SubStatementID != 0 {
				return entityRef{kindSubStatement, cols.SubStatementID}, nil
			}
		case domain.ObjectStatementRef:
			if cols.RefID != 0 {
				return entityRef{kindStatementRef, cols.RefID}, nil
			}
		}
	}
	return entityRef{}, domain.NotFoundError{Kind: "object", ID: string(cols.Kind)}
}

// worklist releases entities breadth first. An entity that survives may be
// pushed again later, after another released entity dropped its last
// reference to it.
type worklist struct {
	e      Engine
	tx     *sql.Tx
	queue  []entityRef
	done   map[entityRef]bool
	report ReleaseReport
}

func (w *worklist) push(refs ...entityRef) {
	for _, ref := range refs {
		if ref.ID != 0 && !w.done[ref] {
			w.queue = append(w.queue, ref)
		}
	}
}

func (w *worklist) run(ctx context.Context) error {
	for len(w.queue) > 0 {
		ref := w.queue[0]
		w.queue = w.queue[1:]
		if w.done[ref] {
			continue
		}
		used, err := w.inUse(ctx, ref)
		if err != nil {
			return err
		}
		if used {
			continue
		}
		if err := w.remove(ctx, ref); err != nil {
			return err
		}
		w.done[ref] = true
		w.report.add(ref.Kind)
	}
	return nil
}

func (w *worklist) inUse(ctx context.Context, ref entityRef) (bool, error) {
	for _, role := range usageRoles[ref.Kind] {
		n, err := w.e.Repo.CountReferences(ctx, w.tx, role.Table, role.Column, ref.ID)
		if err != nil {
			return false, err
		}
		if n > 0 {
			w.e.log().Debugw("entity kept", "kind", ref.Kind, "id", ref.ID, "role", role.Name, "uses", n)
			return true, nil
		}
	}
	return false, nil
}

// remove deletes ref and queues whatever it referenced.
func (w *worklist) remove(ctx context.Context, ref entityRef) error {
	r := w.e.Repo
	switch ref.Kind {
	case kindAgent:
		members, err := r.GroupMemberIDs(ctx, w.tx, ref.ID)
		if err != nil {
			return err
		}
		if err := r.DeleteAgent(ctx, w.tx, ref.ID); err != nil {
			return err
		}
		for _, m := range members {
			w.push(entityRef{kindAgent, m})
		}
	case kindVerb:
		return r.DeleteVerb(ctx, w.tx, ref.ID)
	case kindActivity:
		return r.DeleteActivity(ctx, w.tx, ref.ID)
	case kindSubStatement:
		sub, err := r.GetSubStatement(ctx, w.tx, ref.ID)
		if err != nil {
			return err
		}
		obj, err := objectEntity(sub.Object)
		if err != nil {
			return err
		}
		w.push(entityRef{kindAgent, sub.ActorID}, entityRef{kindVerb, sub.VerbPK}, obj)
		if err := w.dropOwned(ctx, repo.Owner{SubStatementPK: ref.ID}); err != nil {
			return err
		}
		return r.DeleteSubStatement(ctx, w.tx, ref.ID)
	case kindStatementRef:
		return r.DeleteStatementRef(ctx, w.tx, ref.ID)
	}
	return nil
}

// dropOwned deletes the context and result owned by owner and queues the
// entities the context referenced.
func (w *worklist) dropOwned(ctx context.Context, owner repo.Owner) error {
	c, err := w.e.Repo.GetContext(ctx, w.tx, owner)
	if err != nil {
		return err
	}
	if c != nil {
		w.push(entityRef{kindAgent, c.InstructorID}, entityRef{kindAgent, c.TeamID})
		for _, a := range c.Activities {
			w.push(entityRef{kindActivity, a.ActivityPK})
		}
		if err := w.e.Repo.DeleteContext(ctx, w.tx, owner); err != nil {
			return err
		}
	}
	return w.e.Repo.DeleteResult(ctx, w.tx, owner)
}
