// Package metrics collects per-operation call counts, error counts and durations
// reported by the timing advice.
package metrics
