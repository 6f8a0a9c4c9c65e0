// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a duplicate result disagreeing with an already-final task.
var ErrConflict = errors.New("conflict: task already finalized with a different result")

// ErrValidation indicates a request failed validation.
var ErrValidation = errors.New("validation failed")
