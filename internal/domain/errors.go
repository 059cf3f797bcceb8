// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates an operation that contradicts recorded state,
// such as responding to an interaction that was never requested.
var ErrConflict = errors.New("conflict with recorded state")

// ErrValidation indicates a malformed event payload or tool arguments.
// Nothing is persisted or executed when this is returned.
var ErrValidation = errors.New("validation failed")

// ErrBudgetExceeded indicates an iteration or token ceiling was reached.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrConfirmationRequired indicates a risky tool call was attempted without
// proof of user approval.
var ErrConfirmationRequired = errors.New("user confirmation required")

// ErrCoordination indicates a second process attempted to act as the
// workspace writer while another writer is alive.
var ErrCoordination = errors.New("another writer owns this workspace")
