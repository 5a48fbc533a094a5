// Package store defines the persistence interface for the event ledger.
// Every state-changing operation and every served firmware download is
// recorded here, independently of the platform registry document.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindDownload       = "download"
	KindPublish        = "publish"
	KindPlatformCreate = "platform.create"
	KindPlatformDelete = "platform.delete"
	KindAccessAdd      = "access.add"
	KindAccessRemove   = "access.remove"
	KindOTAArgs        = "otaargs.set"
)

// Store is the persistence interface for ledger events.
// Implementations must be safe for concurrent use.
type Store interface {
	RecordEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)

	// Close releases database resources.
	Close() error
}

// Event is one ledger entry.
type Event struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	Platform string    `json:"platform"`
	MAC      string    `json:"mac,omitempty"`
	Version  string    `json:"version,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// NewEvent returns an event with a fresh ID stamped with the current time.
func NewEvent(kind, platform string) *Event {
	return &Event{
		ID:       uuid.NewString(),
		Time:     time.Now().UTC(),
		Kind:     kind,
		Platform: platform,
	}
}

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	Platform string
	Kind     string
	Limit    int
}

// DefaultLimit caps ListEvents when the filter sets no limit.
const DefaultLimit = 100
