package ota

import (
	"context"
	"strings"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/store"
)

// CheckRequest is what a device reports when asking for an update.
type CheckRequest struct {
	Platform string
	Version  string
	MAC      string
}

// BinaryRef locates the firmware image a device should download.
type BinaryRef struct {
	Platform string
	Version  string
	File     string
	Path     string
}

// Decision is the outcome of an accepted update check.
type Decision struct {
	UpdateAvailable bool
	Binary          BinaryRef
}

// CheckUpdate decides whether the device should download new firmware.
// An accepted download increments the platform's counter before returning.
func (s *Service) CheckUpdate(ctx context.Context, req CheckRequest) (Decision, error) {
	name := strings.ToLower(strings.TrimSpace(req.Platform))
	mac := registry.NormalizeMAC(req.MAC)
	if name == "" || strings.TrimSpace(req.Version) == "" || mac == "" {
		return Decision{}, ErrInvalidParameters
	}
	device, err := registry.ParseVersion(strings.TrimSpace(req.Version))
	if err != nil {
		return Decision{}, ErrInvalidParameters.with(err)
	}

	var d Decision
	err = s.reg.Update(ctx, func(ps registry.Platforms) (bool, error) {
		if len(ps) == 0 {
			return false, ErrNoPlatforms
		}
		p, ok := ps[name]
		if !ok {
			return false, ErrUnknownPlatform
		}
		if !p.Listed(mac) {
			return false, ErrNotAuthorized
		}
		if p.Version == nil {
			return false, nil
		}
		current, err := registry.ParseVersion(*p.Version)
		if err != nil {
			return false, ErrPersistence.with(err)
		}
		if registry.UpToDate(device, current) {
			return false, nil
		}
		if p.File == nil || !s.bins.Exists(*p.File) {
			return false, ErrBinaryMissing
		}
		p.Downloads++
		d = Decision{
			UpdateAvailable: true,
			Binary: BinaryRef{
				Platform: name,
				Version:  *p.Version,
				File:     *p.File,
				Path:     s.bins.Path(*p.File),
			},
		}
		return true, nil
	})
	if err != nil {
		return Decision{}, classify(err)
	}

	if d.UpdateAvailable {
		s.log.Info().Str("platform", name).Str("mac", registry.FormatMAC(mac)).
			Str("from", req.Version).Str("to", d.Binary.Version).Msg("serving firmware")
		s.record(ctx, store.KindDownload, name, func(e *store.Event) {
			e.MAC = mac
			e.Version = d.Binary.Version
			e.Detail = "from " + req.Version
		})
	}
	return d, nil
}
