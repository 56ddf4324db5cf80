package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 100

// SimpleCollector implements aspect.MetricsCollector in memory.
// Durations are tracked per operation path with the last 100 samples kept for percentiles.
type SimpleCollector struct {
	mu sync.RWMutex

	calls     map[string]int64
	errors    map[string]map[string]int64
	durations map[string]*timeStats
}

type timeStats struct {
	count   int64
	total   time.Duration
	min     time.Duration
	max     time.Duration
	samples []time.Duration
}

// NewSimpleCollector creates a new in-memory collector
func NewSimpleCollector() *SimpleCollector {
	return &SimpleCollector{
		calls:     make(map[string]int64),
		errors:    make(map[string]map[string]int64),
		durations: make(map[string]*timeStats),
	}
}

// IncrementCallCount implements aspect.MetricsCollector
func (c *SimpleCollector) IncrementCallCount(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[operation]++
}

// RecordDuration implements aspect.MetricsCollector
func (c *SimpleCollector) RecordDuration(operation string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.durations[operation]
	if !exists {
		stats = &timeStats{
			min:     duration,
			max:     duration,
			samples: make([]time.Duration, 0, maxSamples),
		}
		c.durations[operation] = stats
	}

	stats.count++
	stats.total += duration
	if duration < stats.min {
		stats.min = duration
	}
	if duration > stats.max {
		stats.max = duration
	}

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, duration)
}

// IncrementErrorCount implements aspect.MetricsCollector
func (c *SimpleCollector) IncrementErrorCount(operation string, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errors[operation] == nil {
		c.errors[operation] = make(map[string]int64)
	}
	c.errors[operation][errorType]++
}

// Snapshot is the state of one operation at a point in time
type Snapshot struct {
	Operation string           `json:"operation"`
	Calls     int64            `json:"calls"`
	Errors    map[string]int64 `json:"errors,omitempty"`
	Min       time.Duration    `json:"min"`
	Max       time.Duration    `json:"max"`
	Avg       time.Duration    `json:"avg"`
	P95       time.Duration    `json:"p95"`
}

// ErrorCount returns the number of errors of every type
func (s Snapshot) ErrorCount() int64 {
	var total int64
	for _, n := range s.Errors {
		total += n
	}
	return total
}

// Snapshot returns the statistics of one operation
func (c *SimpleCollector) Snapshot(operation string) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot(operation)
}

// Summary returns snapshots of every operation seen, sorted by operation
func (c *SimpleCollector) Summary() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	for op := range c.calls {
		seen[op] = struct{}{}
	}
	for op := range c.durations {
		seen[op] = struct{}{}
	}
	for op := range c.errors {
		seen[op] = struct{}{}
	}

	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	summary := make([]Snapshot, len(ops))
	for i, op := range ops {
		summary[i] = c.snapshot(op)
	}
	return summary
}

func (c *SimpleCollector) snapshot(operation string) Snapshot {
	snap := Snapshot{Operation: operation, Calls: c.calls[operation]}

	if errs := c.errors[operation]; len(errs) > 0 {
		snap.Errors = make(map[string]int64, len(errs))
		for errorType, n := range errs {
			snap.Errors[errorType] = n
		}
	}

	if stats, ok := c.durations[operation]; ok && stats.count > 0 {
		snap.Min = stats.min
		snap.Max = stats.max
		snap.Avg = stats.total / time.Duration(stats.count)
		snap.P95 = percentile(stats.samples, 0.95)
	}
	return snap
}

// Reset clears all collected metrics
func (c *SimpleCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = make(map[string]int64)
	c.errors = make(map[string]map[string]int64)
	c.durations = make(map[string]*timeStats)
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return sorted[int(float64(len(sorted)-1)*p)]
}
