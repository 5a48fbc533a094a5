package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type failingStore struct{ Store }

func (failingStore) Save(Platforms) error { return errors.New("disk full") }

func TestUpdateSkipsSaveWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yml")
	r := New(NewFileStore(path))
	err := r.Update(context.Background(), func(Platforms) (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("registry written without a change: %v", err)
	}
}

func TestUpdateReturnsCallbackError(t *testing.T) {
	r := New(NewFileStore(filepath.Join(t.TempDir(), "p.yml")))
	want := errors.New("nope")
	err := r.Update(context.Background(), func(Platforms) (bool, error) { return true, want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestUpdateWrapsSaveFailure(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "p.yml"))
	r := New(failingStore{fs})
	err := r.Update(context.Background(), func(ps Platforms) (bool, error) {
		ps["a"] = NewPlatform()
		return true, nil
	})
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "save" {
		t.Fatalf("err = %v, want save StoreError", err)
	}
}

func TestSerializedWritesDoNotLoseUpdates(t *testing.T) {
	r := New(NewFileStore(filepath.Join(t.TempDir(), "p.yml")), WithSerializedWrites(true))
	ctx := context.Background()
	if err := r.Update(ctx, func(ps Platforms) (bool, error) {
		ps["esp"] = NewPlatform()
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Update(ctx, func(ps Platforms) (bool, error) {
				ps["esp"].Downloads++
				return true, nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	ps, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ps["esp"].Downloads != n {
		t.Fatalf("downloads = %d, want %d", ps["esp"].Downloads, n)
	}
}

func TestUnserializedWrites(t *testing.T) {
	r := New(NewFileStore(filepath.Join(t.TempDir(), "p.yml")), WithSerializedWrites(false))
	if r.Serialized() {
		t.Fatal("Serialized() = true")
	}
	ctx := context.Background()
	bump := func(ps Platforms) (bool, error) {
		if ps["esp"] == nil {
			ps["esp"] = NewPlatform()
		}
		ps["esp"].Downloads++
		return true, nil
	}

	for i := 0; i < 3; i++ {
		if err := r.Update(ctx, bump); err != nil {
			t.Fatal(err)
		}
	}
	ps, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ps["esp"].Downloads != 3 {
		t.Fatalf("downloads = %d, want 3", ps["esp"].Downloads)
	}

	// Overlapping cycles each save their own copy; the last save wins and
	// the inner increment is lost. A serialized registry would deadlock here.
	err = r.Update(ctx, func(ps Platforms) (bool, error) {
		if err := r.Update(ctx, bump); err != nil {
			return false, err
		}
		return bump(ps)
	})
	if err != nil {
		t.Fatal(err)
	}
	ps, err = r.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ps["esp"].Downloads != 4 {
		t.Fatalf("downloads = %d, want 4 after a lost update", ps["esp"].Downloads)
	}
}

func TestSnapshotHonoursContext(t *testing.T) {
	r := New(NewFileStore(filepath.Join(t.TempDir(), "p.yml")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Snapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
