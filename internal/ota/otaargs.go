package ota

import (
	"context"
	"strings"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/store"
)

// LookupOTAArgs returns the arguments a device should run with: its own
// override if set, else the platform default. ok is false when neither
// exists, the platform is unknown or the device is not listed.
func (s *Service) LookupOTAArgs(ctx context.Context, platform, version, rawMAC string) (args string, ok bool, err error) {
	name := strings.ToLower(strings.TrimSpace(platform))
	mac := registry.NormalizeMAC(rawMAC)
	if name == "" || strings.TrimSpace(version) == "" || mac == "" {
		return "", false, ErrInvalidParameters
	}
	ps, err := s.reg.Snapshot(ctx)
	if err != nil {
		return "", false, classify(err)
	}
	p, found := ps[name]
	if !found {
		return "", false, nil
	}
	e, listed := p.AccessList[mac]
	if !listed {
		return "", false, nil
	}
	if e.OTAArgs != nil {
		return *e.OTAArgs, true, nil
	}
	if p.OTAArgs != nil {
		return *p.OTAArgs, true, nil
	}
	return "", false, nil
}

// SetPlatformOTAArgs sets the platform default. An empty value clears it.
func (s *Service) SetPlatformOTAArgs(ctx context.Context, platform, args string) error {
	name := strings.ToLower(strings.TrimSpace(platform))
	err := s.reg.Update(ctx, func(ps registry.Platforms) (bool, error) {
		p, ok := ps[name]
		if !ok {
			return false, ErrUnknownPlatform
		}
		p.OTAArgs = optional(args)
		return true, nil
	})
	if err != nil {
		return classify(err)
	}
	s.record(ctx, store.KindOTAArgs, name, func(e *store.Event) { e.Detail = args })
	return nil
}

// SetDeviceOTAArgs sets a listed device's override. An empty value clears
// it so the platform default applies again.
func (s *Service) SetDeviceOTAArgs(ctx context.Context, platform, rawMAC, args string) error {
	name := strings.ToLower(strings.TrimSpace(platform))
	mac := registry.NormalizeMAC(rawMAC)
	if !registry.ValidMAC(mac) {
		return ErrAddressMalformed
	}
	err := s.reg.Update(ctx, func(ps registry.Platforms) (bool, error) {
		p, ok := ps[name]
		if !ok {
			return false, ErrUnknownPlatform
		}
		if !p.Listed(mac) {
			return false, ErrAddressNotListed
		}
		p.AccessList[mac] = registry.AccessEntry{OTAArgs: optional(args)}
		return true, nil
	})
	if err != nil {
		return classify(err)
	}
	s.record(ctx, store.KindOTAArgs, name, func(e *store.Event) {
		e.MAC = mac
		e.Detail = args
	})
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
