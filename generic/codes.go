/*
codes.go - Enumeration <-> storage code registries

PURPOSE:
  Statuses and reasons are persisted as short codes ("UAL", "A", "RELEASED").
  A CodeRegistry holds the mapping for one enumeration in both directions so
  that writes and reads can never disagree.

HOW IT WORKS:
  1. Domain packages declare their enumeration as a string type
  2. Domain packages register value/code pairs on init()
  3. Storage encodes on write and decodes on read

INVARIANTS:
  - The mapping is injective: registering a value or a code twice panics,
    so a broken table fails at program start, not on some later read.
  - Decode of an unregistered code returns *UnknownCodeError; it never falls
    back to a zero value.

USAGE:
  var statusCodes = generic.NewCodeRegistry[Status]("key worker status")

  func init() {
      statusCodes.Register(StatusActive, "ACT")
  }

  code, err := statusCodes.Encode(StatusActive)   // "ACT"
  status, err := statusCodes.Decode("ACT")         // StatusActive

SEE ALSO:
  - keyworker/types.go: Registers every domain enumeration
  - store/sqlite/sqlite.go: Encodes/decodes on every row
*/
package generic

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// CODE REGISTRY
// =============================================================================

// CodeRegistry maps enumeration values to storage codes and back.
type CodeRegistry[T comparable] struct {
	kind string

	mu      sync.RWMutex
	toCode  map[T]string
	toValue map[string]T
}

// NewCodeRegistry creates an empty registry. kind names the enumeration in
// error messages.
func NewCodeRegistry[T comparable](kind string) *CodeRegistry[T] {
	return &CodeRegistry[T]{
		kind:    kind,
		toCode:  make(map[T]string),
		toValue: make(map[string]T),
	}
}

// Register adds a value/code pair. Call this from package init() functions.
func (r *CodeRegistry[T]) Register(value T, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.toCode[value]; ok {
		panic(fmt.Sprintf("%s %v already registered as %q", r.kind, value, existing))
	}
	if existing, ok := r.toValue[code]; ok {
		panic(fmt.Sprintf("%s code %q already registered for %v", r.kind, code, existing))
	}
	r.toCode[value] = code
	r.toValue[code] = value
}

// Encode returns the storage code for a value.
func (r *CodeRegistry[T]) Encode(value T) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.toCode[value]
	if !ok {
		return "", &UnknownCodeError{Kind: r.kind, Code: fmt.Sprint(value)}
	}
	return code, nil
}

// Decode returns the value registered for a storage code.
func (r *CodeRegistry[T]) Decode(code string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.toValue[code]
	if !ok {
		var zero T
		return zero, &UnknownCodeError{Kind: r.kind, Code: code}
	}
	return value, nil
}

// MustEncode encodes or panics. Use for compile-time constants only.
func (r *CodeRegistry[T]) MustEncode(value T) string {
	code, err := r.Encode(value)
	if err != nil {
		panic(err)
	}
	return code
}

// Codes returns every registered code, sorted.
func (r *CodeRegistry[T]) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.toValue))
	for code := range r.toValue {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
