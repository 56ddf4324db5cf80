package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/weave-go/internal/reliability"
)

// AMQPConnection is the part of an AMQP connection used by AMQPChecker
type AMQPConnection interface {
	IsClosed() bool
	OpenChannel() (AMQPChannel, error)
}

// AMQPChannel is a short-lived channel the exchange probe runs on
type AMQPChannel interface {
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

type amqpConnection struct {
	conn *amqp.Connection
}

// FromAMQPConnection adapts conn to AMQPConnection
func FromAMQPConnection(conn *amqp.Connection) AMQPConnection {
	return amqpConnection{conn: conn}
}

func (c amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c amqpConnection) OpenChannel() (AMQPChannel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// AMQPChecker checks that the broker connection is open and the audit exchange
// exists. A failed passive declare closes the channel it ran on, so every probe
// opens its own channel.
type AMQPChecker struct {
	conn     AMQPConnection
	exchange string
}

// NewAMQPChecker creates a checker for conn and the topic exchange events are published to
func NewAMQPChecker(conn AMQPConnection, exchange string) *AMQPChecker {
	return &AMQPChecker{conn: conn, exchange: exchange}
}

func (c *AMQPChecker) Name() string {
	return "amqp"
}

func (c *AMQPChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]any{"exchange": c.exchange},
	}

	if c.conn.IsClosed() {
		result.Status = StatusUnhealthy
		result.Message = "Connection is closed"
		result.Duration = time.Since(start)
		return result
	}

	ch, err := c.conn.OpenChannel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to create channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	err = ch.ExchangeDeclarePassive(c.exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	if err != nil {
		result.Status = StatusDegraded
		result.Message = "Exchange check failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	}

	result.Duration = time.Since(start)
	return result
}

// Breaker is the part of *reliability.CircuitBreaker used by BreakerChecker
type Breaker interface {
	Metrics() reliability.CircuitBreakerMetrics
}

// BreakerChecker reports an open breaker as unhealthy and a half-open one as degraded
type BreakerChecker struct {
	breaker Breaker
}

// NewBreakerChecker creates a checker for breaker
func NewBreakerChecker(breaker Breaker) *BreakerChecker {
	return &BreakerChecker{breaker: breaker}
}

func (c *BreakerChecker) Name() string {
	return "breaker_" + c.breaker.Metrics().Name
}

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	m := c.breaker.Metrics()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"state":            m.State.String(),
			"total_calls":      m.TotalCalls,
			"total_failures":   m.TotalFailures,
			"total_rejected":   m.TotalRejected,
			"current_failures": m.CurrentFailures,
		},
	}

	switch m.State {
	case reliability.StateOpen:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Circuit %s is open", m.Name)
	case reliability.StateHalfOpen:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Circuit %s is half-open", m.Name)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("Circuit %s is closed", m.Name)
	}

	result.Duration = time.Since(start)
	return result
}

// RuleCounter is satisfied by *aspect.Registry
type RuleCounter interface {
	Len() int
}

// RulesChecker reports a registry without rules as degraded
type RulesChecker struct {
	rules RuleCounter
}

// NewRulesChecker creates a checker over an interception registry
func NewRulesChecker(rules RuleCounter) *RulesChecker {
	return &RulesChecker{rules: rules}
}

func (c *RulesChecker) Name() string {
	return "rules"
}

func (c *RulesChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	n := c.rules.Len()

	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("%d rules registered", n),
		Timestamp: start,
		Details:   map[string]any{"rules": n},
	}
	if n == 0 {
		result.Status = StatusDegraded
		result.Message = "No rules registered"
	}

	result.Duration = time.Since(start)
	return result
}

// RuntimeChecker watches the goroutine count
type RuntimeChecker struct {
	warning  int
	critical int
}

// NewRuntimeChecker creates a checker that degrades above warning goroutines
// and fails above critical
func NewRuntimeChecker(warning, critical int) *RuntimeChecker {
	return &RuntimeChecker{warning: warning, critical: critical}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"memory_used_mb": float64(m.Sys) / 1024 / 1024,
			"gc_runs":        m.NumGC,
			"goroutines":     goroutines,
		},
	}

	switch {
	case goroutines > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warning:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
