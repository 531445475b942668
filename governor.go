package graphdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ---------------------------------------------------------------------------
// Query Governor — enforces resource limits on second-order query execution
// that are not already the responsibility of the mso engine itself.
//
// Result-set size (MaxResultSubsets) and candidate-family size
// (MaxPowerSetVertices) are enforced inside mso.Engine/mso/family.go, right
// where the family is enumerated and results are accumulated — that is the
// only place either limit can be checked without materializing the whole
// family or result set first. The governor's remaining job is the one thing
// that has to happen before the engine is even entered: applying a default
// execution timeout when the caller supplies no context deadline.
//
// The governor is initialized once in DB.Open(), with defaultTimeout left at
// zero (so no default deadline is applied), and threaded through the
// query execution path. It is immutable after creation (no mutex needed).
// ---------------------------------------------------------------------------

// ErrQueryPanic is returned when a query execution panics. The panic is
// caught at the query boundary so the DB remains operational. The original
// panic value and stack trace are included in the error message.
var ErrQueryPanic = errors.New("graphdb: query panicked")

// queryGovernor enforces per-query resource limits.
// Created once in DB.Open() and shared (read-only) across all queries.
type queryGovernor struct {
	defaultTimeout time.Duration // 0 = no default timeout
}

// wrapContext applies g.defaultTimeout when the caller's context has no
// deadline. If the caller already set a deadline (e.g., via context.WithTimeout),
// their deadline takes priority — the governor does NOT override explicit timeouts.
//
// Returns the (possibly wrapped) context and a cancel function that MUST be
// called by the caller (even if the context was not wrapped, cancel is a no-op).
func (g *queryGovernor) wrapContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.defaultTimeout <= 0 {
		return ctx, func() {} // no-op cancel
	}

	// Only apply the default timeout if the caller did not set one.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, g.defaultTimeout)
	}
	return ctx, func() {} // caller's deadline wins
}

// ---------------------------------------------------------------------------
// Panic Recovery
// ---------------------------------------------------------------------------

// safeExecute runs fn inside a deferred recover() so that panics in query
// execution are converted to errors instead of crashing the process.
//
// When a panic is caught:
//   - A stack trace is captured (up to 4KB) for debugging.
//   - The error wraps ErrQueryPanic so callers can check with errors.Is().
//   - The DB remains fully operational for subsequent queries.
//
// The public query entry points (Decide, Collect, CollectMany) use the
// generic form, safeExecuteResult.
func safeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// Capture a stack trace for the panic location.
			// 4KB is enough for most stacks; runtime.Stack truncates if needed.
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("%w: %v\n\nstack trace:\n%s", ErrQueryPanic, r, buf[:n])
		}
	}()
	return fn()
}

// safeExecuteResult is the generic version of safeExecute for functions that
// return a value and an error (e.g., Decide → bool, error).
func safeExecuteResult[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			var zero T
			result = zero
			err = fmt.Errorf("%w: %v\n\nstack trace:\n%s", ErrQueryPanic, r, buf[:n])
		}
	}()
	return fn()
}
