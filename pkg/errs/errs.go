// Package errs holds the error kinds that cross service boundaries. Handlers
// translate them into response codes; services wrap them with fmt.Errorf.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotInitialized is returned by purchase/restore on a provider that never
// reached the ready state (disabled, failed or still initializing).
var ErrNotInitialized = errors.New("entitlement provider not initialized")

// ConfigurationError means a required credential or setting is absent.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: %s", e.Component, e.Reason)
}

// ValidationError carries per-field messages for rejected input.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NotFoundError covers both a missing row and a row owned by another user.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// TransientProviderError wraps a network or upstream failure talking to a
// payment provider. Retrying later may succeed.
type TransientProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// AccessDeniedError is produced by the role guard.
type AccessDeniedError struct {
	Required string
	Fallback string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s required", e.Required)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientProviderError
	return errors.As(err, &target)
}

func IsAccessDenied(err error) bool {
	var target *AccessDeniedError
	return errors.As(err, &target)
}
