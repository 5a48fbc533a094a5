package ota

import (
	"context"
	"errors"
	"testing"

	"github.com/avaropoint/espota/internal/store"
)

func TestCreatePlatform(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	name, err := env.svc.CreatePlatform(ctx, "  ESP8266-Sensor ")
	if err != nil || name != "esp8266-sensor" {
		t.Fatalf("CreatePlatform = %q, %v", name, err)
	}
	if _, err := env.svc.CreatePlatform(ctx, "esp8266-sensor"); !errors.Is(err, ErrPlatformExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	for _, bad := range []string{"", "../etc", "has space"} {
		if _, err := env.svc.CreatePlatform(ctx, bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("CreatePlatform(%q) err = %v", bad, err)
		}
	}

	list, err := env.svc.ListPlatforms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "esp8266-sensor" || list[0].Version != nil {
		t.Fatalf("list = %+v", list)
	}
}

func TestDeletePlatform(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "esp", "other")
	env.mustPublish(t, "esp v1.0.0")
	ctx := context.Background()

	res, err := env.svc.DeletePlatform(ctx, "ESP")
	if err != nil || !res.Deleted {
		t.Fatalf("DeletePlatform = %+v, %v", res, err)
	}
	if env.bins.Exists("esp_1_0_0.bin") {
		t.Fatal("binary not removed")
	}
	if _, ok := env.platforms(t)["esp"]; ok {
		t.Fatal("platform still present")
	}

	res, err = env.svc.DeletePlatform(ctx, "esp")
	if err != nil || res.Deleted {
		t.Fatalf("second delete = %+v, %v", res, err)
	}

	kinds := env.events.kinds()
	if kinds[len(kinds)-1] != store.KindPlatformDelete {
		t.Fatalf("events = %v", kinds)
	}
}
