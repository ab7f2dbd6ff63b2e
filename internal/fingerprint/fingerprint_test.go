package fingerprint

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/recallgraph/recalld/internal/models"
)

var uuidShape = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestRecordDeterministic(t *testing.T) {
	scope := models.Scope{Tenant: "acme", User: "alice"}

	id1 := Record(scope, "The API uses gRPC.")
	id2 := Record(scope, "The API uses gRPC.")
	assert.Equal(t, id1, id2)
	assert.Regexp(t, uuidShape, id1)
}

func TestRecordNormalization(t *testing.T) {
	scope := models.Scope{Tenant: "acme", User: "alice"}

	// Case, surrounding whitespace, and Unicode compatibility forms fold
	// into the same ID; interior differences do not.
	base := Record(scope, "Deploy target is us-east-1")
	assert.Equal(t, base, Record(scope, "  DEPLOY TARGET IS US-EAST-1  "))
	assert.Equal(t, base, Record(scope, "Deploy target is us-east-１")) // fullwidth 1
	assert.NotEqual(t, base, Record(scope, "Deploy target is us-west-1"))
}

func TestRecordScopeIsolation(t *testing.T) {
	content := "Build uses Bazel"
	a := Record(models.Scope{Tenant: "acme", User: "alice"}, content)
	b := Record(models.Scope{Tenant: "acme", User: "bob"}, content)
	c := Record(models.Scope{Tenant: "acme", User: "alice", Agent: "planner"}, content)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestScopeHashStable(t *testing.T) {
	scope := models.Scope{Tenant: "acme", User: "alice", Project: "apollo"}
	assert.Equal(t, ScopeHash(scope), ScopeHash(scope))
	assert.Len(t, ScopeHash(scope), 16)
	assert.NotEqual(t, ScopeHash(scope), ScopeHash(models.Scope{Tenant: "acme", User: "alice"}))
}

func TestKeysShareScopePrefix(t *testing.T) {
	scope := models.Scope{Tenant: "acme", User: "alice"}
	prefix := ScopePrefix(scope)

	assert.True(t, strings.HasPrefix(SearchKey(scope, "q|k=5"), prefix))
	assert.True(t, strings.HasPrefix(ContextKey(scope, "q|k=5"), prefix))
	assert.True(t, strings.HasPrefix(RecordKey(scope, "some-id"), prefix))

	// Lock keys live outside the cache namespace so prefix invalidation
	// never touches them.
	assert.False(t, strings.HasPrefix(WriteLockKey(scope, "some-id"), prefix))
}

func TestResolveLockKeyOrderIndependent(t *testing.T) {
	scope := models.Scope{Tenant: "acme", User: "alice"}
	assert.Equal(t,
		ResolveLockKey(scope, []string{"id-b", "id-a"}),
		ResolveLockKey(scope, []string{"id-a", "id-b"}))
	assert.NotEqual(t,
		ResolveLockKey(scope, []string{"id-a"}),
		ResolveLockKey(scope, []string{"id-a", "id-b"}))
}
