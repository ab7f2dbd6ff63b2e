package engine

import (
	"errors"
	"fmt"
)

// Kind is the stable classification of an engine error. Transports map kinds
// to status codes; callers decide retry behavior from Retriable.
type Kind string

const (
	KindInvalidInput           Kind = "invalid_input"
	KindNotFound               Kind = "not_found"
	KindContended              Kind = "contended"
	KindEmbedderUnavailable    Kind = "embedder_unavailable"
	KindExtractorUnavailable   Kind = "extractor_unavailable"
	KindVectorStoreUnavailable Kind = "vector_store_unavailable"
	KindGraphStoreUnavailable  Kind = "graph_store_unavailable"
	KindLockManagerUnavailable Kind = "lock_manager_unavailable"
	KindTimeout                Kind = "timeout"
	KindConflictUnresolved     Kind = "conflict_unresolved"
	KindInternal               Kind = "internal"
)

// Error is the typed error returned by every engine operation. It carries a
// stable kind, a short message, and correlation identifiers when known.
type Error struct {
	Kind      Kind
	Message   string
	ID        string
	ScopeHash string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether a retry with backoff may succeed.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindContended, KindTimeout,
		KindEmbedderUnavailable, KindExtractorUnavailable,
		KindVectorStoreUnavailable, KindGraphStoreUnavailable,
		KindLockManagerUnavailable:
		return true
	}
	return false
}

// KindOf extracts the kind from any error, returning KindInternal for errors
// that did not originate in the engine.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) withRef(id, scopeHash string) *Error {
	e.ID = id
	e.ScopeHash = scopeHash
	return e
}
