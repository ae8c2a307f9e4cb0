// Package events delivers ledger events to subscribers outside the process.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"prepaid-card-ledger/config"
	"prepaid-card-ledger/internal/core/domain"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Drain() error
	IsConnected() bool
}

// Connect dials NATS with reconnect handling that logs through log.
func Connect(cfg config.NATSConfig, log zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS connection established")
	return nc, nil
}

// NATSPublisher implements ports.EventPublisher on core NATS subjects
// named "<prefix>.<event type>".
type NATSPublisher struct {
	conn   conn
	prefix string
	log    zerolog.Logger
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc conn, subjectPrefix string, log zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: nc, prefix: subjectPrefix, log: log}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish marshals the event and hands it to the connection's outbound buffer.
func (p *NATSPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	p.log.Debug().
		Str("event_id", event.ID).
		Str("type", event.Type).
		Str("subject", subject).
		Msg("event published")
	return nil
}

// Close flushes pending messages and drains the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Flush(); err != nil {
		p.log.Warn().Err(err).Msg("flushing NATS before drain")
	}
	return p.conn.Drain()
}

// Ping implements ports.HealthChecker.
func (p *NATSPublisher) Ping(ctx context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return nil
}

func (p *NATSPublisher) Name() string {
	return "nats"
}

// NoopPublisher drops every event. Used when NATS is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.LedgerEvent) error { return nil }
