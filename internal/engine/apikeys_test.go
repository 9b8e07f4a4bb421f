package engine_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lrs/internal/domain"
	"lrs/internal/repo"
)

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "lms", "grader")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, "lrs_"))
	assert.Equal(t, repo.HashAPIKey(plain), key.KeyHash)
	assert.NotContains(t, key.KeyHash, plain)

	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	require.NoError(t, err)
	assert.Equal(t, "lms", found.User)

	keys, err := env.Engine.ListAPIKeys(env.Ctx, "lms")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "grader", keys[0].Name)

	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID))
	var nf domain.NotFoundError
	assert.ErrorAs(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID), &nf)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, " ", "")
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}
