package ota

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/avaropoint/espota/internal/registry"
)

func TestPublishFirstImage(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "esp8266-sensor")

	res := env.mustPublish(t, "\x00\x01ESP8266-Sensor build v1.2.3 (v9.9.9)\xff")
	if res.Platform != "esp8266-sensor" || res.Version != "1.2.3" || res.File != "esp8266-sensor_1_2_3.bin" {
		t.Fatalf("result = %+v", res)
	}
	p := env.platforms(t)["esp8266-sensor"]
	if *p.Version != "1.2.3" || *p.File != res.File || p.Downloads != 0 {
		t.Fatalf("platform = %+v", p)
	}
	if p.Uploaded == nil || p.Uploaded.String() != "2026-10-17" {
		t.Fatalf("uploaded = %v", p.Uploaded)
	}
	if !env.bins.Exists(res.File) {
		t.Fatal("binary not written")
	}
}

func TestPublishReplacesPreviousBinary(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "esp")
	env.mustPublish(t, "esp v1.0.0")

	// Downloads reset on publish.
	if err := env.reg.Update(context.Background(), func(ps registry.Platforms) (bool, error) {
		ps["esp"].Downloads = 7
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}

	res := env.mustPublish(t, "esp v1.1.0")
	if res.Previous != "esp_1_0_0.bin" || res.Warning != "" {
		t.Fatalf("result = %+v", res)
	}
	if env.bins.Exists("esp_1_0_0.bin") {
		t.Fatal("previous binary still present")
	}
	if got := env.platforms(t)["esp"].Downloads; got != 0 {
		t.Fatalf("downloads = %d, want 0", got)
	}
}

func TestPublishRejections(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "esp")
	env.mustPublish(t, "esp v1.1.0")
	ctx := context.Background()

	tests := []struct {
		name string
		req  PublishRequest
		want error
	}{
		{"empty", PublishRequest{}, ErrEmptyBlob},
		{"no platform", PublishRequest{Blob: []byte("other v2.0.0")}, ErrNoPlatformInBlob},
		{"no version", PublishRequest{Blob: []byte("esp 2.0.0")}, ErrNoVersionInBlob},
		{"same version", PublishRequest{Blob: []byte("esp v1.1.0")}, ErrVersionNotIncreased},
		{"older version", PublishRequest{Blob: []byte("esp v1.0.9")}, ErrVersionNotIncreased},
		{"explicit unknown", PublishRequest{Blob: []byte("esp v3.0.0"), Platform: "ghost"}, ErrUnknownPlatform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Publish(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if *env.platforms(t)["esp"].Version != "1.1.0" {
		t.Fatal("rejected upload changed the registry")
	}
}

func TestPublishLeadingZeroVersion(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "esp")

	res := env.mustPublish(t, "esp v1.02.0")
	if res.Version != "1.2.0" || res.File != "esp_1_02_0.bin" {
		t.Fatalf("result = %+v", res)
	}
	if _, err := env.svc.Publish(context.Background(), PublishRequest{Blob: []byte("esp v1.2.0")}); !errors.Is(err, ErrVersionNotIncreased) {
		t.Fatalf("same version with other digits: err = %v", err)
	}
	if res := env.mustPublish(t, "esp v1.010.0"); res.Version != "1.10.0" || res.Previous != "esp_1_02_0.bin" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPublishExplicitPlatform(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "a", "b")
	res, err := env.svc.Publish(context.Background(), PublishRequest{Blob: []byte("firmware v0.1.0"), Platform: "B"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Platform != "b" || res.File != "b_0_1_0.bin" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPublishRemovesImageWhenSaveFails(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "esp")

	env.svc.reg = registry.New(saveFailStore{env.fs})
	_, err := env.svc.Publish(context.Background(), PublishRequest{Blob: []byte("esp v1.0.0")})
	if KindOf(err) != KindPersistence {
		t.Fatalf("err = %v, want persistence failure", err)
	}
	if env.bins.Exists("esp_1_0_0.bin") {
		t.Fatal("unsaved binary left on disk")
	}
}

func TestPublishWarnsWhenPreviousCannotBeRemoved(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "esp")
	env.mustPublish(t, "esp v1.0.0")

	// A non-empty directory under the old name cannot be removed.
	old := env.bins.Path("esp_1_0_0.bin")
	if err := os.Remove(old); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(old+"/keep", 0o755); err != nil {
		t.Fatal(err)
	}

	res := env.mustPublish(t, "esp v1.0.1")
	if res.Warning == "" {
		t.Fatalf("expected warning, got %+v", res)
	}
	if *env.platforms(t)["esp"].File != "esp_1_0_1.bin" {
		t.Fatal("registry not updated")
	}
}

func TestDetectPlatformPrefersLongestName(t *testing.T) {
	names := []string{"esp", "esp32", "esp32-cam", "zzz32"}
	tests := map[string]string{
		"ESP32-CAM v1.0.0": "esp32-cam",
		"esp32 v1.0.0":     "esp32",
		"esp8266 v1.0.0":   "esp",
	}
	for blob, want := range tests {
		got, ok := DetectPlatform(names, []byte(blob))
		if !ok || got != want {
			t.Errorf("DetectPlatform(%q) = %q, %v; want %q", blob, got, ok, want)
		}
	}
	if _, ok := DetectPlatform(names, []byte("arduino v1.0.0")); ok {
		t.Error("matched a platform that is not in the blob")
	}
}

type saveFailStore struct{ registry.Store }

func (saveFailStore) Save(registry.Platforms) error { return os.ErrPermission }
