package ota

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/store"
)

const deviceMAC = "AA:BB:CC:DD:EE:FF"

func setupServed(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.mustCreate(t, "esp")
	env.mustPublish(t, "esp image v1.2.0")
	if err := env.svc.AddAccessEntry(context.Background(), "esp", deviceMAC); err != nil {
		t.Fatal(err)
	}
	return env
}

func TestCheckUpdateServesNewer(t *testing.T) {
	env := setupServed(t)
	d, err := env.svc.CheckUpdate(context.Background(), CheckRequest{Platform: "ESP", Version: "1.0.0", MAC: deviceMAC})
	if err != nil {
		t.Fatalf("CheckUpdate: %v", err)
	}
	if !d.UpdateAvailable || d.Binary.File != "esp_1_2_0.bin" || d.Binary.Version != "1.2.0" {
		t.Fatalf("decision = %+v", d)
	}
	if d.Binary.Path != env.bins.Path("esp_1_2_0.bin") {
		t.Fatalf("path = %s", d.Binary.Path)
	}
	if got := env.platforms(t)["esp"].Downloads; got != 1 {
		t.Fatalf("downloads = %d, want 1", got)
	}
	kinds := env.events.kinds()
	if kinds[len(kinds)-1] != store.KindDownload {
		t.Fatalf("last event = %v", kinds)
	}
}

func TestCheckUpdateNoUpdate(t *testing.T) {
	env := setupServed(t)
	for _, v := range []string{"1.2.0", "1.3.0"} {
		d, err := env.svc.CheckUpdate(context.Background(), CheckRequest{Platform: "esp", Version: v, MAC: deviceMAC})
		if err != nil {
			t.Fatalf("CheckUpdate(%s): %v", v, err)
		}
		if d.UpdateAvailable {
			t.Fatalf("CheckUpdate(%s) offered an update", v)
		}
	}
	if got := env.platforms(t)["esp"].Downloads; got != 0 {
		t.Fatalf("downloads = %d, want 0", got)
	}
}

func TestCheckUpdateLeadingZeroDeviceVersion(t *testing.T) {
	env := setupServed(t)
	tests := []struct {
		ver  string
		want bool
	}{
		{"1.01.0", true},
		{"1.02.0", false},
		{"01.002.001", false},
	}
	for _, tt := range tests {
		d, err := env.svc.CheckUpdate(context.Background(), CheckRequest{Platform: "esp", Version: tt.ver, MAC: deviceMAC})
		if err != nil {
			t.Fatalf("CheckUpdate(%s): %v", tt.ver, err)
		}
		if d.UpdateAvailable != tt.want {
			t.Errorf("CheckUpdate(%s) update = %v, want %v", tt.ver, d.UpdateAvailable, tt.want)
		}
	}
}

func TestCheckUpdateRejections(t *testing.T) {
	env := setupServed(t)
	ctx := context.Background()
	tests := []struct {
		name string
		req  CheckRequest
		want error
	}{
		{"missing platform", CheckRequest{Version: "1.0.0", MAC: deviceMAC}, ErrInvalidParameters},
		{"missing version", CheckRequest{Platform: "esp", MAC: deviceMAC}, ErrInvalidParameters},
		{"missing mac", CheckRequest{Platform: "esp", Version: "1.0.0"}, ErrInvalidParameters},
		{"bad version", CheckRequest{Platform: "esp", Version: "soon", MAC: deviceMAC}, ErrInvalidParameters},
		{"unknown platform", CheckRequest{Platform: "nope", Version: "1.0.0", MAC: deviceMAC}, ErrUnknownPlatform},
		{"not listed", CheckRequest{Platform: "esp", Version: "1.0.0", MAC: "11:22:33:44:55:66"}, ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CheckUpdate(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckUpdateNoPlatforms(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CheckUpdate(context.Background(), CheckRequest{Platform: "esp", Version: "1.0.0", MAC: deviceMAC})
	if !errors.Is(err, ErrNoPlatforms) || KindOf(err) != KindUnavailable {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckUpdateBinaryMissing(t *testing.T) {
	env := setupServed(t)
	if err := os.Remove(env.bins.Path("esp_1_2_0.bin")); err != nil {
		t.Fatal(err)
	}
	_, err := env.svc.CheckUpdate(context.Background(), CheckRequest{Platform: "esp", Version: "1.0.0", MAC: deviceMAC})
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("err = %v, want binary missing", err)
	}
	if got := env.platforms(t)["esp"].Downloads; got != 0 {
		t.Fatalf("downloads = %d, want 0", got)
	}
}

func TestCheckUpdatePlatformWithoutVersion(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "bare")
	if err := env.svc.AddAccessEntry(context.Background(), "bare", deviceMAC); err != nil {
		t.Fatal(err)
	}
	d, err := env.svc.CheckUpdate(context.Background(), CheckRequest{Platform: "bare", Version: "0.0.1", MAC: deviceMAC})
	if err != nil || d.UpdateAvailable {
		t.Fatalf("decision = %+v, err = %v", d, err)
	}
}

func TestConcurrentChecksCountEveryDownload(t *testing.T) {
	env := setupServed(t)
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := env.svc.CheckUpdate(context.Background(), CheckRequest{Platform: "esp", Version: "1.0.0", MAC: deviceMAC})
			if err != nil || !d.UpdateAvailable {
				t.Errorf("decision = %+v, err = %v", d, err)
			}
		}()
	}
	wg.Wait()
	if got := env.platforms(t)["esp"].Downloads; got != n {
		t.Fatalf("downloads = %d, want %d", got, n)
	}
}

func TestCheckUpdateNormalizesMAC(t *testing.T) {
	env := setupServed(t)
	d, err := env.svc.CheckUpdate(context.Background(), CheckRequest{Platform: "esp", Version: "1.0.0", MAC: "aabb.ccdd.eeff"})
	if err != nil || !d.UpdateAvailable {
		t.Fatalf("decision = %+v, err = %v", d, err)
	}
	if !env.platforms(t)["esp"].Listed(registry.NormalizeMAC(deviceMAC)) {
		t.Fatal("device vanished from access list")
	}
}
