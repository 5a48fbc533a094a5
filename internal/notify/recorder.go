package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/avaropoint/espota/internal/store"
)

// Recorder writes events to the ledger and then publishes them. Failures
// are logged; the operation that produced the event has already succeeded.
type Recorder struct {
	store store.Store
	pub   Publisher
	log   zerolog.Logger
}

// NewRecorder returns a recorder. A nil store disables the ledger and a nil
// publisher disables publication.
func NewRecorder(st store.Store, pub Publisher, log zerolog.Logger) *Recorder {
	if pub == nil {
		pub = Nop{}
	}
	return &Recorder{store: st, pub: pub, log: log}
}

func (r *Recorder) Record(ctx context.Context, e *store.Event) {
	ctx = context.WithoutCancel(ctx)
	if r.store != nil {
		if err := r.store.RecordEvent(ctx, e); err != nil {
			r.log.Error().Err(err).Str("kind", e.Kind).Str("platform", e.Platform).Msg("record event")
		}
	}
	if err := r.pub.Publish(ctx, e); err != nil {
		r.log.Warn().Err(err).Str("kind", e.Kind).Msg("publish event")
	}
}
