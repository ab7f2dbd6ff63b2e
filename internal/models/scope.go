package models

import (
	"fmt"
	"strings"
)

// Scope qualifies every read and write. Tenant and User are required; Agent,
// Session, and Project narrow the scope further. Cross-scope leakage is
// forbidden: every store query carries the full scope.
type Scope struct {
	Tenant  string `json:"tenant"`
	User    string `json:"user"`
	Agent   string `json:"agent,omitempty"`
	Session string `json:"session,omitempty"`
	Project string `json:"project,omitempty"`
}

// Validate checks scope completeness.
func (s Scope) Validate() error {
	if s.Tenant == "" {
		return fmt.Errorf("scope tenant must not be empty")
	}
	if s.User == "" {
		return fmt.Errorf("scope user must not be empty")
	}
	for _, part := range []string{s.Tenant, s.User, s.Agent, s.Session, s.Project} {
		if strings.ContainsRune(part, '\x1f') {
			return fmt.Errorf("scope component contains reserved separator")
		}
	}
	return nil
}

// Canonical returns the deterministic wire form of the scope, used for
// fingerprinting and key derivation. Empty optional components are kept as
// empty positions so that (t,u) and (t,u,agent) never collide.
func (s Scope) Canonical() string {
	return strings.Join([]string{s.Tenant, s.User, s.Agent, s.Session, s.Project}, "\x1f")
}

// String renders the scope for logs, omitting empty components.
func (s Scope) String() string {
	parts := []string{s.Tenant, s.User}
	for _, p := range []string{s.Agent, s.Session, s.Project} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}
