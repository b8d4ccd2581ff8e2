// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
)

// Error taxonomy (sentinels). HTTP and queue boundaries translate these via
// errors.Is; never compare error strings.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAuthentication  = errors.New("authentication failed")
	ErrSchemaInvalid   = errors.New("schema invalid")
	ErrInternal        = errors.New("internal error")

	// Scraping Adapter taxonomy (spec §7, §6).
	ErrPrivateAccount      = errors.New("account is private")
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient scraper balance")
	ErrRateLimited         = errors.New("rate limited")
	ErrTransient           = errors.New("transient upstream failure")

	// AI pipeline.
	ErrRefusal = errors.New("ai provider refused the request")

	// ErrLeaveRunning is a sentinel a Handler (internal/worker) returns to
	// mean "do not finalize this task" — the ai_analysis handler only
	// accumulates tasks into running; completion happens later when the
	// batch pipeline reconciles results.
	ErrLeaveRunning = errors.New("task intentionally left running")
)

// Context is a type alias to stdlib context.Context so domain signatures stay
// terse without importing context everywhere it's merely threaded through.
type Context = context.Context
