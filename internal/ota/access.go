package ota

import (
	"context"
	"fmt"
	"strings"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/store"
)

// AddAccessEntry authorizes a device on a platform. An address may be
// listed on at most one platform.
func (s *Service) AddAccessEntry(ctx context.Context, platform, rawMAC string) error {
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
		if owner, listed := ps.FindByMAC(mac); listed {
			return false, ErrAddressListed.with(fmt.Errorf("%s is on platform %q", registry.FormatMAC(mac), owner))
		}
		if p.AccessList == nil {
			p.AccessList = make(map[string]registry.AccessEntry)
		}
		p.AccessList[mac] = registry.AccessEntry{}
		return true, nil
	})
	if err != nil {
		return classify(err)
	}
	s.log.Info().Str("platform", name).Str("mac", registry.FormatMAC(mac)).Msg("address added")
	s.record(ctx, store.KindAccessAdd, name, func(e *store.Event) { e.MAC = mac })
	return nil
}

// RemoveAccessEntry revokes a device. Removing an address that is not
// listed succeeds without writing.
func (s *Service) RemoveAccessEntry(ctx context.Context, platform, rawMAC string) error {
	name := strings.ToLower(strings.TrimSpace(platform))
	mac := registry.NormalizeMAC(rawMAC)
	removed := false
	err := s.reg.Update(ctx, func(ps registry.Platforms) (bool, error) {
		p, ok := ps[name]
		if !ok {
			return false, ErrUnknownPlatform
		}
		if !p.Listed(mac) {
			return false, nil
		}
		delete(p.AccessList, mac)
		removed = true
		return true, nil
	})
	if err != nil {
		return classify(err)
	}
	if removed {
		s.log.Info().Str("platform", name).Str("mac", registry.FormatMAC(mac)).Msg("address removed")
		s.record(ctx, store.KindAccessRemove, name, func(e *store.Event) { e.MAC = mac })
	}
	return nil
}
