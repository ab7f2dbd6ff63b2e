// Package fingerprint derives content-addressed record IDs and the scoped
// cache and lock keys built from them. IDs are a pure function of
// (scope, normalized content): two writes with identical inputs always map
// to the same ID, which is what makes Save idempotent.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/recallgraph/recalld/internal/models"
)

// sep separates the scope from the content inside the hash input. Scope
// components are validated to never contain it.
const sep = "\x1f"

// Normalize returns the canonical form of memory content used for hashing:
// NFKC-folded, trimmed, lowercased. The stored content stays verbatim.
func Normalize(content string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(content)))
}

// Record computes the 128-bit content-addressed ID of a memory within its
// scope. The ID is rendered in dashed UUID form so vector backends that
// require UUID point IDs can use it directly.
func Record(scope models.Scope, content string) string {
	h := fnv.New128a()
	_, _ = h.Write([]byte(scope.Canonical()))
	_, _ = h.Write([]byte(sep))
	_, _ = h.Write([]byte(Normalize(content)))
	hex := fmt.Sprintf("%x", h.Sum(nil))
	return hex[0:8] + "-" + hex[8:12] + "-" + hex[12:16] + "-" + hex[16:20] + "-" + hex[20:32]
}

// ScopeHash returns a short stable hash of the scope, used as the key
// segment shared by every cache and lock key in that scope.
func ScopeHash(scope models.Scope) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope.Canonical()))
	return fmt.Sprintf("%016x", h.Sum64())
}

// queryHash hashes an arbitrary query string for cache keys.
func queryHash(q string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(q))
	return fmt.Sprintf("%016x", h.Sum64())
}

// ScopePrefix is the cache-key prefix invalidated on every write in a scope.
func ScopePrefix(scope models.Scope) string {
	return "mem:v1:" + ScopeHash(scope) + ":"
}

// SearchKey is the cache key for a Search result in a scope.
func SearchKey(scope models.Scope, canonicalQuery string) string {
	return ScopePrefix(scope) + "search:" + queryHash(canonicalQuery)
}

// ContextKey is the cache key for a GetContext result in a scope.
func ContextKey(scope models.Scope, canonicalQuery string) string {
	return ScopePrefix(scope) + "context:" + queryHash(canonicalQuery)
}

// RecordKey is the cache key for a rehydrated record lookup.
func RecordKey(scope models.Scope, id string) string {
	return ScopePrefix(scope) + "id:" + id
}

// WriteLockKey serializes writes on a single (scope, id).
func WriteLockKey(scope models.Scope, id string) string {
	return "lock:mem:" + ScopeHash(scope) + ":" + id
}

// ResolveLockKey serializes conflict resolution over a set of IDs. The set is
// sorted before hashing so the key is order-independent.
func ResolveLockKey(scope models.Scope, ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return "lock:resolve:" + ScopeHash(scope) + ":" + queryHash(strings.Join(sorted, ","))
}
