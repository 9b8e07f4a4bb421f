package engine_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"lrs/internal/domain"
	"lrs/internal/engine"
	"lrs/internal/errors"
)

func stateAddr(id string) engine.DocumentAddress {
	alice := person("alice")
	return engine.DocumentAddress{Kind: domain.DocumentState, ActivityID: activity("quiz").ID, Agent: &alice, DocID: id}
}

func profileAddr(id string) engine.DocumentAddress {
	return engine.DocumentAddress{Kind: domain.DocumentActivityProfile, ActivityID: activity("quiz").ID, DocID: id}
}

func isPrecondition(err error) bool {
	var pe domain.PreconditionFailedError
	return errors.As(err, &pe)
}

func TestPutAndGetDocument(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.Engine.PutDocument(env.Ctx, stateAddr("bookmark"), []byte("page 4"), "text/plain", engine.Preconditions{}, "")
	require.NoError(t, err)
	assert.Equal(t, engine.ETag([]byte("page 4")), doc.ETag)

	got, err := env.Engine.GetDocument(env.Ctx, stateAddr("bookmark"))
	require.NoError(t, err)
	assert.Equal(t, []byte("page 4"), got.Content)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, doc.ETag, got.ETag)

	// state documents may be overwritten without a precondition
	_, err = env.Engine.PutDocument(env.Ctx, stateAddr("bookmark"), []byte("page 5"), "text/plain", engine.Preconditions{}, "")
	require.NoError(t, err)

	_, err = env.Engine.GetDocument(env.Ctx, stateAddr("missing"))
	var nf domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestDocumentAddressValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := person("alice")
	bad := map[string]engine.DocumentAddress{
		"state without agent":         {Kind: domain.DocumentState, ActivityID: activity("quiz").ID, DocID: "x"},
		"state without id":            {Kind: domain.DocumentState, ActivityID: activity("quiz").ID, Agent: &alice},
		"profile with registration":   {Kind: domain.DocumentActivityProfile, ActivityID: activity("quiz").ID, Registration: "ec531277-b57b-4c15-8d91-d292c5b2b8f7", DocID: "x"},
		"agent profile with activity": {Kind: domain.DocumentAgentProfile, Agent: &alice, ActivityID: activity("quiz").ID, DocID: "x"},
		"bad registration":            {Kind: domain.DocumentState, ActivityID: activity("quiz").ID, Agent: &alice, Registration: "nope", DocID: "x"},
	}
	for name, addr := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := env.Engine.PutDocument(env.Ctx, addr, []byte("{}"), "", engine.Preconditions{}, "")
			var ve domain.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestProfilePreconditions(t *testing.T) {
	env := newTestEnv(t)
	addr := profileAddr("settings")

	_, err := env.Engine.PutDocument(env.Ctx, addr, []byte(`{"a":1}`), "application/json", engine.Preconditions{IfMatch: `"abc"`}, "")
	assert.True(t, isPrecondition(err), "If-Match on a missing document")

	first, err := env.Engine.PutDocument(env.Ctx, addr, []byte(`{"a":1}`), "application/json", engine.Preconditions{IfNoneMatch: "*"}, "")
	require.NoError(t, err)

	_, err = env.Engine.PutDocument(env.Ctx, addr, []byte(`{"a":2}`), "application/json", engine.Preconditions{IfNoneMatch: "*"}, "")
	assert.True(t, isPrecondition(err), "If-None-Match * on an existing document")

	_, err = env.Engine.PutDocument(env.Ctx, addr, []byte(`{"a":2}`), "application/json", engine.Preconditions{}, "")
	assert.True(t, isPrecondition(err), "profiles require a precondition to overwrite")

	_, err = env.Engine.PutDocument(env.Ctx, addr, []byte(`{"a":2}`), "application/json", engine.Preconditions{IfMatch: `"stale"`}, "")
	assert.True(t, isPrecondition(err), "stale If-Match")

	second, err := env.Engine.PutDocument(env.Ctx, addr, []byte(`{"a":2}`), "application/json", engine.Preconditions{IfMatch: `"` + first.ETag + `"`}, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ETag, second.ETag)

	require.True(t, isPrecondition(env.Engine.DeleteDocument(env.Ctx, addr, engine.Preconditions{IfMatch: first.ETag})))
	require.NoError(t, env.Engine.DeleteDocument(env.Ctx, addr, engine.Preconditions{IfMatch: second.ETag}))
	require.NoError(t, env.Engine.DeleteDocument(env.Ctx, addr, engine.Preconditions{}), "deleting a missing document is not an error")
}

func TestConcurrentConditionalPutsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	addr := profileAddr("counter")
	base, err := env.Engine.PutDocument(env.Ctx, addr, []byte("0"), "text/plain", engine.Preconditions{}, "")
	require.NoError(t, err)

	var wins, losses atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		body := []byte{byte('1' + i)}
		g.Go(func() error {
			_, err := env.Engine.PutDocument(env.Ctx, addr, body, "text/plain", engine.Preconditions{IfMatch: base.ETag}, "")
			switch {
			case err == nil:
				wins.Add(1)
			case isPrecondition(err):
				losses.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), losses.Load())
}

func TestPostDocumentMergesObjects(t *testing.T) {
	env := newTestEnv(t)
	addr := stateAddr("progress")
	_, err := env.Engine.PostDocument(env.Ctx, addr, []byte(`{"a":1,"b":{"x":1}}`), engine.Preconditions{}, "")
	require.NoError(t, err)
	merged, err := env.Engine.PostDocument(env.Ctx, addr, []byte(`{"b":{"y":2},"c":3}`), engine.Preconditions{}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":{"y":2},"c":3}`, string(merged.Content))
	assert.Equal(t, "application/json", merged.ContentType)

	_, err = env.Engine.PostDocument(env.Ctx, addr, []byte(`[1,2]`), engine.Preconditions{}, "")
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = env.Engine.PutDocument(env.Ctx, stateAddr("text"), []byte("plain"), "text/plain", engine.Preconditions{}, "")
	require.NoError(t, err)
	_, err = env.Engine.PostDocument(env.Ctx, stateAddr("text"), []byte(`{"a":1}`), engine.Preconditions{}, "")
	assert.ErrorAs(t, err, &ve, "merging into a non-JSON document")
}

func TestListAndDeleteAllStateDocuments(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.PutDocument(env.Ctx, stateAddr("b"), []byte("1"), "", engine.Preconditions{}, "")
	require.NoError(t, err)
	_, err = env.Engine.PutDocument(env.Ctx, stateAddr("a"), []byte("2"), "", engine.Preconditions{}, "")
	require.NoError(t, err)
	_, err = env.Engine.PutDocument(env.Ctx, profileAddr("p"), []byte("3"), "", engine.Preconditions{}, "")
	require.NoError(t, err)

	owner := stateAddr("")
	ids, err := env.Engine.ListDocuments(env.Ctx, owner, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = env.Engine.ListDocuments(env.Ctx, owner, "2024-01-01T00:00:00.5Z")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids, "first was updated at %s", first.Updated)

	n, err := env.Engine.DeleteDocuments(env.Ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	ids, err = env.Engine.ListDocuments(env.Ctx, owner, "")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = env.Engine.DeleteDocuments(env.Ctx, engine.DocumentAddress{Kind: domain.DocumentActivityProfile, ActivityID: activity("quiz").ID})
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDocumentSizeLimit(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Documents.MaxBytes = 4
	_, err := env.Engine.PutDocument(env.Ctx, stateAddr("big"), []byte("12345"), "", engine.Preconditions{}, "")
	var ve domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}
