package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"lrs/internal/domain"
)

func TestResolveAgentDeduplicatesByIdentifier(t *testing.T) {
	env := newTestEnv(t)
	first, created, err := env.Engine.ResolveAgent(env.Ctx, person("alice"))
	require.NoError(t, err)
	assert.True(t, created)

	renamed := person("alice")
	renamed.Name = "Alice Liddell"
	second, created, err := env.Engine.ResolveAgent(env.Ctx, renamed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Name, second.Name, "first stored name wins")
	assert.Equal(t, 1, countRows(t, env.Engine.DB, "agents"))

	_, created, err = env.Engine.ResolveAgent(env.Ctx, domain.Agent{MboxSHA1Sum: "ABCDEF0123456789ABCDEF0123456789ABCDEF01"})
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = env.Engine.ResolveAgent(env.Ctx, domain.Agent{MboxSHA1Sum: "abcdef0123456789abcdef0123456789abcdef01"})
	require.NoError(t, err)
	assert.False(t, created, "sha1 sums compare case-insensitively")
}

func TestResolveAgentByAccount(t *testing.T) {
	env := newTestEnv(t)
	acct := &domain.Account{HomePage: "http://lms.example.com", Name: "u-17"}
	stored, created, err := env.Engine.ResolveAgent(env.Ctx, domain.Agent{Name: "Ann", Account: acct})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored.Account)
	assert.Equal(t, "u-17", stored.Account.Name)

	_, created, err = env.Engine.ResolveAgent(env.Ctx, domain.Agent{Account: &domain.Account{HomePage: "http://lms.example.com", Name: "u-17"}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, countRows(t, env.Engine.DB, "agent_accounts"))
}

func TestResolveIdentifiedGroupAccumulatesMembers(t *testing.T) {
	env := newTestEnv(t)
	group := func(members ...domain.Agent) domain.Agent {
		return domain.Agent{ObjectType: "Group", Name: "team", Mbox: "mailto:team@example.com", Member: members}
	}
	_, created, err := env.Engine.ResolveAgent(env.Ctx, group(person("alice")))
	require.NoError(t, err)
	assert.True(t, created)

	stored, created, err := env.Engine.ResolveAgent(env.Ctx, group(person("bob"), person("alice")))
	require.NoError(t, err)
	assert.False(t, created)
	require.Len(t, stored.Member, 2)
	assert.Equal(t, "mailto:alice@example.com", stored.Member[0].Mbox)
	assert.Equal(t, "mailto:bob@example.com", stored.Member[1].Mbox)
}

func TestResolveAnonymousGroupByMembers(t *testing.T) {
	env := newTestEnv(t)
	a := domain.Agent{ObjectType: "Group", Name: "pair", Member: []domain.Agent{person("alice"), person("bob")}}
	b := domain.Agent{ObjectType: "Group", Name: "pair", Member: []domain.Agent{person("bob"), person("alice")}}
	c := domain.Agent{ObjectType: "Group", Name: "pair", Member: []domain.Agent{person("bob"), person("carol")}}

	_, created, err := env.Engine.ResolveAgent(env.Ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = env.Engine.ResolveAgent(env.Ctx, b)
	require.NoError(t, err)
	assert.False(t, created, "member order does not matter")
	_, created, err = env.Engine.ResolveAgent(env.Ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = env.Engine.ResolveAgent(env.Ctx, domain.Agent{ObjectType: "Group", Name: "empty"})
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestResolveVerbMergesDisplays(t *testing.T) {
	env := newTestEnv(t)
	_, created, err := env.Engine.ResolveVerb(env.Ctx, domain.Verb{ID: "http://example.com/verbs/read", Display: domain.LanguageMap{"en-US": "read"}})
	require.NoError(t, err)
	assert.True(t, created)

	stored, created, err := env.Engine.ResolveVerb(env.Ctx, domain.Verb{ID: "http://example.com/verbs/read", Display: domain.LanguageMap{"en-US": "perused", "fr-FR": "lu"}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.LanguageMap{"en-US": "read", "fr-FR": "lu"}, stored.Display)
}

func TestResolveActivityDefinitionAuthority(t *testing.T) {
	env := newTestEnv(t)
	withName := func(name string) domain.Activity {
		a := activity("course")
		a.Definition = &domain.ActivityDefinition{Name: domain.LanguageMap{"en-US": name}}
		return a
	}
	_, created, err := env.Engine.ResolveActivity(env.Ctx, withName("Original"), "owner")
	require.NoError(t, err)
	assert.True(t, created)

	stored, _, err := env.Engine.ResolveActivity(env.Ctx, withName("Hijacked"), "intruder")
	require.NoError(t, err)
	assert.Equal(t, "Original", stored.Definition.Name["en-US"])

	stored, _, err = env.Engine.ResolveActivity(env.Ctx, withName("Revised"), "owner")
	require.NoError(t, err)
	assert.Equal(t, "Revised", stored.Definition.Name["en-US"])

	stored, _, err = env.Engine.ResolveActivity(env.Ctx, activity("course"), "owner")
	require.NoError(t, err)
	require.NotNil(t, stored.Definition, "a reference without definition keeps the stored one")
}

func TestResolveActivityValidatesInteractions(t *testing.T) {
	env := newTestEnv(t)
	a := activity("question")
	a.Definition = &domain.ActivityDefinition{
		InteractionType: "choice",
		Choices:         []domain.InteractionComponent{{ID: "a"}, {ID: "a"}},
	}
	_, _, err := env.Engine.ResolveActivity(env.Ctx, a, "")
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestResolveConcurrentCallsCreateOneRow(t *testing.T) {
	env := newTestEnv(t)
	var g errgroup.Group
	results := make([]bool, 16)
	for i := range results {
		g.Go(func() error {
			_, created, err := env.Engine.ResolveAgent(env.Ctx, person("alice"))
			results[i] = created
			if err != nil {
				return err
			}
			_, _, err = env.Engine.ResolveVerb(env.Ctx, verb("attempted"))
			if err != nil {
				return err
			}
			_, _, err = env.Engine.ResolveActivity(env.Ctx, activity("quiz"), "")
			return err
		})
	}
	require.NoError(t, g.Wait())
	creators := 0
	for _, c := range results {
		if c {
			creators++
		}
	}
	assert.Equal(t, 1, creators)
	assert.Equal(t, 1, countRows(t, env.Engine.DB, "agents"))
	assert.Equal(t, 1, countRows(t, env.Engine.DB, "verbs"))
	assert.Equal(t, 1, countRows(t, env.Engine.DB, "activities"))
}

func TestResolveAccountKeepsAgentAndGroupApart(t *testing.T) {
	acct := func() *domain.Account { return &domain.Account{HomePage: "http://lms.example.com", Name: "u-1"} }
	single := domain.Agent{Account: acct()}
	team := domain.Agent{ObjectType: "Group", Name: "team", Account: acct(), Member: []domain.Agent{person("bob")}}

	for name, order := range map[string][]domain.Agent{
		"agent first": {single, team},
		"group first": {team, single},
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			for _, a := range order {
				stored, created, err := env.Engine.ResolveAgent(env.Ctx, a)
				require.NoError(t, err)
				assert.True(t, created, a.TypeName())
				assert.Equal(t, a.TypeName(), stored.ObjectType)
			}
			assert.Equal(t, 3, countRows(t, env.Engine.DB, "agents"))
			assert.Equal(t, 2, countRows(t, env.Engine.DB, "agent_accounts"))

			s := store(t, env, statement(team, verb("attempted"), domain.ActivityObject(activity("quiz"))))
			got, err := env.Engine.GetStatement(env.Ctx, s.ID, false)
			require.NoError(t, err)
			assert.Equal(t, "Group", got.Actor.ObjectType)
			require.Len(t, got.Actor.Member, 1)
			assert.Equal(t, "mailto:bob@example.com", got.Actor.Member[0].Mbox)
			require.NotNil(t, got.Actor.Account)
			assert.Equal(t, "u-1", got.Actor.Account.Name)

			again, created, err := env.Engine.ResolveAgent(env.Ctx, single)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, "Agent", again.ObjectType)
			assert.Empty(t, again.Member)
		})
	}
}
