// Package viva - errors.go
// Defines session-level errors and the defect/recoverable taxonomy.

package viva

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyHistory = errors.New("session history is empty")
	ErrRunActive    = errors.New("an agent run is already in progress")
	ErrUnknownBlock = errors.New("unknown content block type")
)

// DispatchDefect reports a content block that reached the render dispatcher
// without a matching case. This is a contract violation: a new block variant
// was introduced upstream without updating the dispatcher. It is surfaced as
// a hard failure rather than dropped.
type DispatchDefect struct {
	Block any
}

func (d *DispatchDefect) Error() string {
	return fmt.Sprintf("render dispatch has no case for block %T", d.Block)
}

// RateLimitError is a recoverable provider error. RetryAfter is zero when the
// provider supplied no interval.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.Message)
	}
	return "rate limited: " + e.Message
}
