// Package guard decides what a caller gets to see once auth state is known.
// Guards never fail: they return an Outcome and, at most, navigate once.
package guard

import (
	"sync"

	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/types"
)

type Outcome int

const (
	// OutcomePlaceholder is shown while auth is still loading.
	OutcomePlaceholder Outcome = iota
	// OutcomeNothing is rendered after the login redirect was issued.
	OutcomeNothing
	OutcomeChildren
	OutcomeAccessDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlaceholder:
		return "placeholder"
	case OutcomeNothing:
		return "nothing"
	case OutcomeChildren:
		return "children"
	case OutcomeAccessDenied:
		return "access_denied"
	}
	return "unknown"
}

type Navigator interface {
	Redirect(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Redirect(path string) { f(path) }

// AuthGuard redirects unauthenticated callers to LoginPath exactly once over
// its lifetime, however many times it is evaluated.
type AuthGuard struct {
	LoginPath string
	Navigator Navigator

	mu         sync.Mutex
	redirected bool
}

func NewAuthGuard(loginPath string, nav Navigator) *AuthGuard {
	return &AuthGuard{LoginPath: loginPath, Navigator: nav}
}

func (g *AuthGuard) Evaluate(state session.State) Outcome {
	switch state {
	case session.StateAuthenticated:
		return OutcomeChildren
	case session.StateUnauthenticated:
		g.redirectOnce()
		return OutcomeNothing
	default:
		return OutcomePlaceholder
	}
}

func (g *AuthGuard) redirectOnce() {
	g.mu.Lock()
	if g.redirected {
		g.mu.Unlock()
		return
	}
	g.redirected = true
	g.mu.Unlock()
	if g.Navigator != nil {
		g.Navigator.Redirect(g.LoginPath)
	}
}

// hasRedirected reports whether the login redirect has been issued.
func (g *AuthGuard) hasRedirected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.redirected
}

type Capability string

const (
	CapabilityAdmin    Capability = "admin"
	CapabilityElevated Capability = "elevated"
)

func (c Capability) Allows(role types.Role) bool {
	switch c {
	case CapabilityAdmin:
		return role.IsAdmin()
	case CapabilityElevated:
		return role.HasElevatedAccess()
	}
	return false
}

type Decision struct {
	Outcome Outcome
	// Err is set for OutcomeAccessDenied.
	Err *errs.AccessDeniedError
}

// RoleGuard wraps an AuthGuard with a capability check. The check runs only
// after auth resolved to authenticated; a failed check redirects once to
// FallbackPath and yields an explicit access-denied outcome.
type RoleGuard struct {
	Auth         *AuthGuard
	Required     Capability
	FallbackPath string
	Navigator    Navigator

	mu         sync.Mutex
	redirected bool
}

func NewRoleGuard(auth *AuthGuard, required Capability, fallbackPath string, nav Navigator) *RoleGuard {
	return &RoleGuard{Auth: auth, Required: required, FallbackPath: fallbackPath, Navigator: nav}
}

func (g *RoleGuard) Evaluate(state session.State, role types.Role) Decision {
	if out := g.Auth.Evaluate(state); out != OutcomeChildren {
		return Decision{Outcome: out}
	}
	if g.Required.Allows(role) {
		return Decision{Outcome: OutcomeChildren}
	}

	g.mu.Lock()
	first := !g.redirected
	g.redirected = true
	g.mu.Unlock()
	if first && g.Navigator != nil {
		g.Navigator.Redirect(g.FallbackPath)
	}
	return Decision{
		Outcome: OutcomeAccessDenied,
		Err:     &errs.AccessDeniedError{Required: string(g.Required), Fallback: g.FallbackPath},
	}
}
