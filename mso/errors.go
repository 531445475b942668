package mso

import "errors"

// Error kinds, per spec.md §7. All are explicit and tagged so callers can
// distinguish them with errors.Is.
var (
	// ErrPlanInvalid is returned by Builder.Build/Engine.Decide/Engine.Collect
	// when plan validation fails: empty prefix, empty filter body, duplicate
	// quantifier names, or a missing/mismatched selector in collection mode.
	ErrPlanInvalid = errors.New("mso: query plan is invalid")

	// ErrExpressionError is returned when strict expression-error policy is
	// enabled (Options.CatchExpressionErrors == false) and the filter body
	// or aggregation predicate fails to parse or evaluate.
	ErrExpressionError = errors.New("mso: expression evaluation failed")

	// ErrStorageError wraps a failure from the underlying Graph (vertex/edge
	// iteration, component computation). Always fatal — partial results are
	// discarded.
	ErrStorageError = errors.New("mso: storage engine failed")

	// ErrOverLimit is returned when a power-set candidate family's vertex
	// domain exceeds Options.MaxPowerSetVertices.
	ErrOverLimit = errors.New("mso: vertex domain exceeds MaxPowerSetVertices")

	// ErrTooLargeResult is returned when collection mode's witness count
	// exceeds Options.MaxResultSubsets.
	ErrTooLargeResult = errors.New("mso: result set exceeds MaxResultSubsets")

	// ErrCancelled is returned when the caller's context is cancelled or
	// its deadline is exceeded during evaluation. Partial results are
	// discarded per spec.md §5. evalState.checkCancel wraps the context's
	// own error underneath it, so errors.Is(err, context.Canceled) and
	// errors.Is(err, context.DeadlineExceeded) both see through to it.
	ErrCancelled = errors.New("mso: query cancelled")
)
