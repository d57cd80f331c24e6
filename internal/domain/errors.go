// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a state transition that is no longer possible,
// such as responding to an approval that already reached a terminal state.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates a malformed request rejected at submission,
// before any deliberation or audit entry is created.
var ErrValidation = errors.New("validation")
