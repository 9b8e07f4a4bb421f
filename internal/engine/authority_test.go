package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"lrs/internal/domain"
	"lrs/internal/engine"
)

func authoritative(t *testing.T, env testEnv, id string) bool {
	t.Helper()
	var flag bool
	require.NoError(t, env.Engine.DB.QueryRow(`SELECT authoritative FROM statements WHERE statement_id=?`, id).Scan(&flag))
	return flag
}

func TestNewerStatementTakesAuthority(t *testing.T) {
	env := newTestEnv(t)
	first := store(t, env, statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz"))))
	second := store(t, env, statement(person("alice"), verb("completed"), domain.ActivityObject(activity("quiz"))))
	other := store(t, env, statement(person("bob"), verb("completed"), domain.ActivityObject(activity("quiz"))))

	assert.False(t, authoritative(t, env, first.ID))
	assert.True(t, authoritative(t, env, second.ID))
	assert.True(t, authoritative(t, env, other.ID), "different actor is a different fact")
}

func TestAuthorityConsidersAuthorityAndContext(t *testing.T) {
	env := newTestEnv(t)
	base := statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz")))
	plain := store(t, env, base)

	withAuthority := base
	withAuthority.Authority = &domain.Agent{Mbox: "mailto:lms@example.com"}
	signed := store(t, env, withAuthority)

	withContext := base
	withContext.Context = &domain.Context{Platform: "mobile"}
	mobile := store(t, env, withContext)

	assert.True(t, authoritative(t, env, plain.ID))
	assert.True(t, authoritative(t, env, signed.ID))
	assert.True(t, authoritative(t, env, mobile.ID))
}

func TestEquivalentContextsCompareByEntity(t *testing.T) {
	env := newTestEnv(t)
	s := statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz")))
	s.Context = &domain.Context{Instructor: &domain.Agent{Name: "Bob", Mbox: "mailto:bob@example.com"}}
	first := store(t, env, s)

	s.Context = &domain.Context{Instructor: &domain.Agent{Name: "Robert", Mbox: "mailto:bob@example.com"}}
	second := store(t, env, s)

	assert.False(t, authoritative(t, env, first.ID))
	assert.True(t, authoritative(t, env, second.ID))
}

func TestVoidAndRestore(t *testing.T) {
	env := newTestEnv(t)
	target := store(t, env, statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz"))))
	voider := store(t, env, voiding(person("admin"), target.ID))

	_, err := env.Engine.GetStatement(env.Ctx, target.ID, false)
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	got, err := env.Engine.GetStatement(env.Ctx, target.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Voided)

	listed, err := env.Engine.ListStatements(env.Ctx, engine.StatementQuery{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, voider.ID, listed[0].ID)

	_, err = env.Engine.DeleteStatement(env.Ctx, voider.ID, "")
	require.NoError(t, err)
	got, err = env.Engine.GetStatement(env.Ctx, target.ID, false)
	require.NoError(t, err)
	assert.False(t, got.Voided)
	assert.True(t, got.Authoritative)
}

func TestVoidingRules(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.StoreStatement(env.Ctx, voiding(person("admin"), "5f0e8d54-6f0a-4b5b-9bbf-1f1ce0c3a0aa"), "")
	var nf domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	target := store(t, env, statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz"))))
	voider := store(t, env, voiding(person("admin"), target.ID))
	_, err = env.Engine.StoreStatement(env.Ctx, voiding(person("admin"), voider.ID), "")
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestTargetStaysVoidedWhileAnotherVoiderRemains(t *testing.T) {
	env := newTestEnv(t)
	target := store(t, env, statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz"))))
	v1 := store(t, env, voiding(person("admin"), target.ID))
	v2 := store(t, env, voiding(person("auditor"), target.ID))

	_, err := env.Engine.DeleteStatement(env.Ctx, v1.ID, "")
	require.NoError(t, err)
	_, err = env.Engine.GetStatement(env.Ctx, target.ID, true)
	require.NoError(t, err, "still voided")

	_, err = env.Engine.DeleteStatement(env.Ctx, v2.ID, "")
	require.NoError(t, err)
	_, err = env.Engine.GetStatement(env.Ctx, target.ID, false)
	require.NoError(t, err)
}

func TestRestoredStatementYieldsToNewerFact(t *testing.T) {
	env := newTestEnv(t)
	old := store(t, env, statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz"))))
	voider := store(t, env, voiding(person("admin"), old.ID))
	newer := store(t, env, statement(person("alice"), verb("completed"), domain.ActivityObject(activity("quiz"))))
	assert.True(t, authoritative(t, env, newer.ID))

	_, err := env.Engine.DeleteStatement(env.Ctx, voider.ID, "")
	require.NoError(t, err)
	assert.False(t, authoritative(t, env, old.ID))
	assert.True(t, authoritative(t, env, newer.ID))
}

func TestRestoredNewestStatementReclaimsAuthority(t *testing.T) {
	env := newTestEnv(t)
	older := store(t, env, statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz"))))
	newest := store(t, env, statement(person("alice"), verb("completed"), domain.ActivityObject(activity("quiz"))))
	voider := store(t, env, voiding(person("admin"), newest.ID))
	restored := store(t, env, statement(person("alice"), verb("passed"), domain.ActivityObject(activity("quiz"))))

	// deleting the newest authoritative statement never promotes older ones
	_, err := env.Engine.DeleteStatement(env.Ctx, restored.ID, "")
	require.NoError(t, err)
	assert.False(t, authoritative(t, env, older.ID))

	_, err = env.Engine.DeleteStatement(env.Ctx, voider.ID, "")
	require.NoError(t, err)
	assert.True(t, authoritative(t, env, newest.ID))
	assert.False(t, authoritative(t, env, older.ID))
}

func TestConcurrentInsertsKeepOneAuthoritative(t *testing.T) {
	env := newTestEnv(t)
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := env.Engine.StoreStatement(env.Ctx, statement(person("alice"), verb("attempted"), domain.ActivityObject(activity("quiz"))), "")
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 16, countRows(t, env.Engine.DB, "statements"))
	var current int
	require.NoError(t, env.Engine.DB.QueryRow(`SELECT COUNT(*) FROM statements WHERE authoritative=1`).Scan(&current))
	assert.Equal(t, 1, current)

	var newest string
	require.NoError(t, env.Engine.DB.QueryRow(`SELECT statement_id FROM statements ORDER BY stored DESC LIMIT 1`).Scan(&newest))
	assert.True(t, authoritative(t, env, newest), "the newest statement holds authority")
}
