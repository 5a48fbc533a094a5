package ota

import (
	"context"
	"errors"
	"testing"
)

func TestAddAccessEntry(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "a", "b")
	ctx := context.Background()

	if err := env.svc.AddAccessEntry(ctx, "a", "AA-BB-CC-DD-EE-FF"); err != nil {
		t.Fatalf("AddAccessEntry: %v", err)
	}
	if !env.platforms(t)["a"].Listed("aabbccddeeff") {
		t.Fatal("address not stored normalized")
	}

	tests := []struct {
		name, platform, mac string
		want                error
	}{
		{"malformed", "a", "aa:bb", ErrAddressMalformed},
		{"duplicate same platform", "a", "aabbccddeeff", ErrAddressListed},
		{"duplicate other platform", "b", "AA:BB:CC:DD:EE:FF", ErrAddressListed},
		{"unknown platform", "c", "11:22:33:44:55:66", ErrUnknownPlatform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.svc.AddAccessEntry(ctx, tt.platform, tt.mac); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRemoveAccessEntry(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, "a")
	ctx := context.Background()
	if err := env.svc.AddAccessEntry(ctx, "a", deviceMAC); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.RemoveAccessEntry(ctx, "a", deviceMAC); err != nil {
		t.Fatalf("RemoveAccessEntry: %v", err)
	}
	if env.platforms(t)["a"].Listed("aabbccddeeff") {
		t.Fatal("address still listed")
	}
	// Absent entries are a no-op.
	if err := env.svc.RemoveAccessEntry(ctx, "a", deviceMAC); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if err := env.svc.RemoveAccessEntry(ctx, "ghost", deviceMAC); !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("err = %v", err)
	}
}
