package rabbitmq

import (
	"fmt"
	"net/url"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishError is returned when an audit event could not be published
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to exchange %s with key %s failed: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Channel is an open AMQP channel with a declared audit exchange
type Channel struct {
	*amqp.Channel
	conn *amqp.Connection
}

// Connection returns the connection the channel was opened on
func (c *Channel) Connection() *amqp.Connection {
	return c.conn
}

// Close closes the channel and its connection
func (c *Channel) Close() error {
	chErr := c.Channel.Close()
	connErr := c.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

// Dial connects to the broker at rawURL and declares exchange as a durable topic exchange
func Dial(rawURL, exchange string) (*Channel, error) {
	conn, err := amqp.Dial(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", SanitizeURL(rawURL), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Channel{Channel: ch, conn: conn}, nil
}

// SanitizeURL hides the password of an AMQP URL
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
