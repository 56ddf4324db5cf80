package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/weave-go/aspect"
	"github.com/glimte/weave-go/contracts"
)

// DefaultExchange is the topic exchange audit events are published to
const DefaultExchange = "weave.audit"

// Publisher is the subset of *amqp.Channel used to publish audit events
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AuditAdvice publishes an InvocationEvent for every finished invocation.
// It runs as an after binding, so a failed publish is reported and never
// changes the outcome of the call. The event records the outcome of the
// around stage: a failure later recovered by afterFailure advice is
// published as failed, and a result replaced by afterSuccess advice still
// counts as succeeded.
type AuditAdvice struct {
	publisher Publisher
	exchange  string
	appID     string
	logger    *slog.Logger
}

// AuditOption configures an AuditAdvice
type AuditOption func(*AuditAdvice)

// WithExchange sets the exchange events are published to
func WithExchange(exchange string) AuditOption {
	return func(a *AuditAdvice) {
		a.exchange = exchange
	}
}

// WithAppID sets the AppId property of published messages
func WithAppID(appID string) AuditOption {
	return func(a *AuditAdvice) {
		a.appID = appID
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) AuditOption {
	return func(a *AuditAdvice) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuditAdvice creates an audit advice publishing through publisher
func NewAuditAdvice(publisher Publisher, options ...AuditOption) *AuditAdvice {
	a := &AuditAdvice{
		publisher: publisher,
		exchange:  DefaultExchange,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(a)
	}

	return a
}

// Bindings implements aspect.Advisor
func (a *AuditAdvice) Bindings() []aspect.Binding {
	return []aspect.Binding{aspect.After("audit", a.publish)}
}

// RoutingKey returns the key an event is published with: <outcome>.<path>
func RoutingKey(event contracts.InvocationEvent) string {
	return event.Outcome + "." + strings.ToLower(event.Path)
}

func (a *AuditAdvice) publish(ctx context.Context, inv *aspect.Invocation) error {
	event := contracts.NewInvocationEvent(inv.Site(), inv.ID(), inv.Elapsed(), inv.Err())

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal invocation event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.CorrelationID,
		Timestamp:     event.Timestamp,
		Type:          event.Type,
		AppId:         a.appID,
		Body:          body,
	}

	key := RoutingKey(event)
	if err := a.publisher.PublishWithContext(ctx, a.exchange, key, false, false, msg); err != nil {
		return &PublishError{Exchange: a.exchange, RoutingKey: key, Err: err}
	}

	a.logger.DebugContext(ctx, "invocation event published",
		"exchange", a.exchange,
		"routingKey", key,
		"invocationId", inv.ID(),
	)
	return nil
}
