// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the operation lost a compare-and-set race,
// typically because a generation is already running for the conversation.
var ErrConflict = errors.New("conflict: generation already running")

// ErrValidation indicates a malformed request rejected before any
// session state was created.
var ErrValidation = errors.New("validation failed")
