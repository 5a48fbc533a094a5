// Package notify forwards ledger events to a message bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/avaropoint/espota/internal/store"
)

// Publisher sends an event to subscribers outside the server.
type Publisher interface {
	Publish(ctx context.Context, e *store.Event) error
	Close()
}

// Nop discards events. It is used when no bus is configured.
type Nop struct{}

func (Nop) Publish(context.Context, *store.Event) error { return nil }
func (Nop) Close()                                       {}

// NATSPublisher publishes events as JSON on <prefix>.<kind>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to url. The connection reconnects forever.
func NewNATSPublisher(url, prefix string, log zerolog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("espota"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject an event of kind is published on.
func Subject(prefix, kind string) string {
	return prefix + "." + kind
}

func (p *NATSPublisher) Publish(ctx context.Context, e *store.Event) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.nc.Publish(Subject(p.prefix, e.Kind), payload)
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain() //nolint:errcheck
		p.nc.Close()
	}
}
