package ota

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*store.Event
}

func (r *recordingSink) Record(_ context.Context, e *store.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type testEnv struct {
	svc    *Service
	reg    *registry.Registry
	fs     *registry.FileStore
	bins   *Binaries
	events *recordingSink
}

var testDay = time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	bins, err := NewBinaries(dir)
	if err != nil {
		t.Fatal(err)
	}
	fs := registry.NewFileStore(filepath.Join(dir, "platforms.yml"))
	reg := registry.New(fs)
	sink := &recordingSink{}
	svc := New(reg, bins, WithEvents(sink), WithClock(func() time.Time { return testDay }))
	return &testEnv{svc: svc, reg: reg, fs: fs, bins: bins, events: sink}
}

func (e *testEnv) platforms(t *testing.T) registry.Platforms {
	t.Helper()
	ps, err := e.fs.Load()
	if err != nil {
		t.Fatal(err)
	}
	return ps
}

func (e *testEnv) mustCreate(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := e.svc.CreatePlatform(context.Background(), n); err != nil {
			t.Fatalf("CreatePlatform(%s): %v", n, err)
		}
	}
}

func (e *testEnv) mustPublish(t *testing.T, blob string) PublishResult {
	t.Helper()
	res, err := e.svc.Publish(context.Background(), PublishRequest{Blob: []byte(blob)})
	if err != nil {
		t.Fatalf("Publish(%q): %v", blob, err)
	}
	return res
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrInvalidParameters, KindInvalidInput},
		{ErrNotAuthorized, KindUnauthorized},
		{ErrAddressListed.with(errors.New("detail")), KindConflict},
		{&registry.StoreError{Op: "save", Err: os.ErrPermission}, KindPersistence},
		{errors.New("plain"), KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if !errors.Is(ErrAddressListed.with(errors.New("x")), ErrAddressListed) {
		t.Error("wrapped sentinel does not match")
	}
}
