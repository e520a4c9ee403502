/*
Package generic holds the domain-agnostic building blocks of the key-worker
engine.

KEY CONCEPTS:
  - TimePoint / Period: calendar dates and inclusive reporting windows
  - Rates: half-up rounded percentages and averages on decimal.Decimal
  - CodeRegistry: enumeration <-> storage code mapping
  - Retry / JobResult: bounded retries and the outcome of one batch job
  - Errors: sentinels shared by the domain, storage and HTTP layers

Nothing in here knows about prisons or key workers; the keyworker package
builds on these types.
*/
package generic
