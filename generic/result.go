package generic

import "fmt"

// =============================================================================
// JOB RESULT - Explicit outcome of a batch job
// =============================================================================

// JobResult is what a batch job returns instead of logging and swallowing
// its own failures. Exactly one of Value (Ok) or Err (Failed) is meaningful.
// The caller decides how to report a failure.
type JobResult[T any] struct {
	Value T
	Err   error
}

func Ok[T any](value T) JobResult[T] { return JobResult[T]{Value: value} }

func Failed[T any](err error) JobResult[T] { return JobResult[T]{Err: err} }

func (r JobResult[T]) IsOk() bool     { return r.Err == nil }
func (r JobResult[T]) IsFailed() bool { return r.Err != nil }

// Unwrap returns the value and error in the usual Go shape.
func (r JobResult[T]) Unwrap() (T, error) { return r.Value, r.Err }

// RunJob runs fn and converts both returned errors and panics into Failed.
func RunJob[T any](fn func() (T, error)) (result JobResult[T]) {
	defer func() {
		if rec := recover(); rec != nil {
			result = Failed[T](fmt.Errorf("job panicked: %v", rec))
		}
	}()

	value, err := fn()
	if err != nil {
		return Failed[T](err)
	}
	return Ok(value)
}
