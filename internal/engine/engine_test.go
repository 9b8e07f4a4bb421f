package engine_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lrs/internal/config"
	"lrs/internal/db"
	"lrs/internal/domain"
	"lrs/internal/engine"
	"lrs/internal/errors"
	"lrs/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn), "migrate")
	eng := engine.New(conn, config.Default(), nil)
	eng.Now = tickingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// tickingClock advances one second per call so stored times are distinct.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func person(name string) domain.Agent {
	return domain.Agent{ObjectType: "Agent", Name: name, Mbox: "mailto:" + name + "@example.com"}
}

func verb(name string) domain.Verb {
	return domain.Verb{ID: "http://adlnet.gov/expapi/verbs/" + name, Display: domain.LanguageMap{"en-US": name}}
}

func activity(name string) domain.Activity {
	return domain.Activity{ID: "http://example.com/activities/" + name}
}

func statement(actor domain.Agent, v domain.Verb, obj domain.StatementObject) domain.Statement {
	return domain.Statement{Actor: actor, Verb: v, Object: obj}
}

func voiding(actor domain.Agent, targetID string) domain.Statement {
	return domain.Statement{Actor: actor, Verb: domain.Verb{ID: domain.VoidedVerbID}, Object: domain.RefObject(targetID)}
}

func store(t *testing.T, env testEnv, s domain.Statement) domain.Statement {
	t.Helper()
	stored, err := env.Engine.StoreStatement(env.Ctx, s, "")
	require.NoError(t, err)
	return stored
}

func countRows(t *testing.T, conn *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestStoreAndGetStatement(t *testing.T) {
	env := newTestEnv(t)
	s := statement(person("alice"), verb("completed"), domain.ActivityObject(activity("course")))
	success := true
	s.Result = &domain.Result{Success: &success, Response: "42"}
	s.Context = &domain.Context{
		Registration: "ec531277-b57b-4c15-8d91-d292c5b2b8f7",
		Instructor:   &domain.Agent{Name: "Bob", Mbox: "mailto:bob@example.com"},
		ContextActivities: map[string]domain.ActivityList{
			"parent": {activity("program")},
		},
	}
	stored := store(t, env, s)
	require.NotEmpty(t, stored.ID)
	assert.Equal(t, stored.Stored, stored.Timestamp)

	got, err := env.Engine.GetStatement(env.Ctx, stored.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "mailto:alice@example.com", got.Actor.Mbox)
	assert.Equal(t, domain.ObjectActivity, got.Object.Kind)
	assert.Equal(t, activity("course").ID, got.Object.Activity.ID)
	require.NotNil(t, got.Result)
	assert.Equal(t, "42", got.Result.Response)
	require.NotNil(t, got.Context)
	assert.Equal(t, "mailto:bob@example.com", got.Context.Instructor.Mbox)
	require.Len(t, got.Context.ContextActivities["parent"], 1)
	assert.Equal(t, activity("program").ID, got.Context.ContextActivities["parent"][0].ID)
	assert.True(t, got.Authoritative)
	assert.False(t, got.Voided)
}

func TestStoreStatementNormalizesTimestamp(t *testing.T) {
	env := newTestEnv(t)
	s := statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz")))
	s.Timestamp = "2024-03-01T10:00:00+02:00"
	stored := store(t, env, s)
	assert.Equal(t, "2024-03-01T08:00:00.000000Z", stored.Timestamp)
}

func TestStoreStatementConflict(t *testing.T) {
	env := newTestEnv(t)
	s := statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz")))
	s.ID = "6690e6c9-3ef0-4ed3-8b37-7f3964730bee"
	store(t, env, s)

	_, err := env.Engine.StoreStatement(env.Ctx, s, "")
	var conflict domain.ConflictError
	require.True(t, errors.As(err, &conflict), "expected conflict, got %v", err)
	assert.Equal(t, s.ID, conflict.ID)
}

func TestStoreStatementRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]domain.Statement{
		"two identifiers": statement(domain.Agent{Mbox: "mailto:a@example.com", OpenID: "http://openid.example.com/a"}, verb("attempted"), domain.ActivityObject(activity("quiz"))),
		"no identifier":   statement(domain.Agent{Name: "nobody"}, verb("attempted"), domain.ActivityObject(activity("quiz"))),
		"verb not an IRI": statement(person("alice"), domain.Verb{ID: "attempted"}, domain.ActivityObject(activity("quiz"))),
		"voiding an activity": {
			Actor: person("alice"), Verb: domain.Verb{ID: domain.VoidedVerbID}, Object: domain.ActivityObject(activity("quiz")),
		},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.Engine.StoreStatement(env.Ctx, s, "")
			var ve domain.ValidationError
			assert.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
		})
	}
	assert.Equal(t, 0, countRows(t, env.Engine.DB, "statements"))
}

func TestStoreStatementsBatchIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	good := statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz")))
	missingTarget := voiding(person("alice"), "0b9d4c5e-0000-4000-8000-000000000000")

	_, err := env.Engine.StoreStatements(env.Ctx, []domain.Statement{good, missingTarget}, "")
	var nf domain.NotFoundError
	require.True(t, errors.As(err, &nf), "expected not found, got %v", err)
	assert.Equal(t, 0, countRows(t, env.Engine.DB, "statements"))
	assert.Equal(t, 0, countRows(t, env.Engine.DB, "agents"))

	ids, err := env.Engine.StoreStatements(env.Ctx, []domain.Statement{good, good}, "")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestStoreStatementsRejectsDuplicateIDs(t *testing.T) {
	env := newTestEnv(t)
	s := statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz")))
	s.ID = "6690e6c9-3ef0-4ed3-8b37-7f3964730bee"
	_, err := env.Engine.StoreStatements(env.Ctx, []domain.Statement{s, s}, "")
	var ve domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestListStatementsFilters(t *testing.T) {
	env := newTestEnv(t)
	first := store(t, env, statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz"))))
	second := store(t, env, statement(person("bob"), verb("completed"), domain.ActivityObject(activity("quiz"))))
	third := store(t, env, statement(person("carol"), verb("experienced"), domain.AgentObject(person("alice"))))

	all, err := env.Engine.ListStatements(env.Ctx, engine.StatementQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID, "newest first")

	alice := person("alice")
	byAgent, err := env.Engine.ListStatements(env.Ctx, engine.StatementQuery{Agent: &alice, Ascending: true})
	require.NoError(t, err)
	require.Len(t, byAgent, 2)
	assert.Equal(t, first.ID, byAgent[0].ID)
	assert.Equal(t, third.ID, byAgent[1].ID)

	byVerb, err := env.Engine.ListStatements(env.Ctx, engine.StatementQuery{VerbID: verb("completed").ID})
	require.NoError(t, err)
	require.Len(t, byVerb, 1)
	assert.Equal(t, second.ID, byVerb[0].ID)

	byActivity, err := env.Engine.ListStatements(env.Ctx, engine.StatementQuery{ActivityID: activity("quiz").ID})
	require.NoError(t, err)
	assert.Len(t, byActivity, 2)

	since, err := env.Engine.ListStatements(env.Ctx, engine.StatementQuery{Since: first.Stored})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	unknown, err := env.Engine.ListStatements(env.Ctx, engine.StatementQuery{VerbID: "http://example.com/never"})
	require.NoError(t, err)
	assert.Empty(t, unknown)

	limited, err := env.Engine.ListStatements(env.Ctx, engine.StatementQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = env.Engine.ListStatements(env.Ctx, engine.StatementQuery{Since: "yesterday"})
	var ve domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestGetPersonAndActivity(t *testing.T) {
	env := newTestEnv(t)
	a := activity("course")
	a.Definition = &domain.ActivityDefinition{Name: domain.LanguageMap{"en-US": "Course"}}
	store(t, env, statement(person("alice"), verb("attempted"), domain.ActivityObject(a)))

	p, err := env.Engine.GetPerson(env.Ctx, domain.Agent{Mbox: "mailto:alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Person", p.ObjectType)
	assert.Equal(t, []string{"alice"}, p.Name)
	assert.Equal(t, []string{"mailto:alice@example.com"}, p.Mbox)

	_, err = env.Engine.GetPerson(env.Ctx, domain.Agent{Mbox: "mailto:nobody@example.com"})
	var nf domain.NotFoundError
	assert.True(t, errors.As(err, &nf))

	got, err := env.Engine.GetActivity(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Course", got.Definition.Name["en-US"])
}
