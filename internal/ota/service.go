// Package ota implements the firmware update server's operations: update
// decisions, firmware publication, access lists, OTA arguments and
// platform administration. Every operation is one load-mutate-save cycle
// against the platform registry.
package ota

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/store"
)

// EventSink receives a record of every successful state change.
// Implementations handle their own failures.
type EventSink interface {
	Record(ctx context.Context, e *store.Event)
}

type nopSink struct{}

func (nopSink) Record(context.Context, *store.Event) {}

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the event sink.
func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithClock overrides the time source used for upload dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// Service runs registry operations.
type Service struct {
	reg    *registry.Registry
	bins   *Binaries
	events EventSink
	now    func() time.Time
	log    zerolog.Logger
}

// New returns a service over the registry and binary directory.
func New(reg *registry.Registry, bins *Binaries, opts ...Option) *Service {
	s := &Service{
		reg:    reg,
		bins:   bins,
		events: nopSink{},
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Binaries returns the binary directory the service publishes into.
func (s *Service) Binaries() *Binaries { return s.bins }

func (s *Service) record(ctx context.Context, kind, platform string, fill func(*store.Event)) {
	e := store.NewEvent(kind, platform)
	if fill != nil {
		fill(e)
	}
	s.events.Record(ctx, e)
}
