package ota

import (
	"context"
	"strings"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/store"
)

// PlatformInfo is a platform record with its name.
type PlatformInfo struct {
	Name string `json:"name"`
	*registry.Platform
}

// ListPlatforms returns every platform sorted by name.
func (s *Service) ListPlatforms(ctx context.Context) ([]PlatformInfo, error) {
	ps, err := s.reg.Snapshot(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]PlatformInfo, 0, len(ps))
	for _, n := range ps.Names() {
		out = append(out, PlatformInfo{Name: n, Platform: ps[n]})
	}
	return out, nil
}

// CreatePlatform adds an empty platform. Existing platforms are not reset.
func (s *Service) CreatePlatform(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if !registry.ValidName(key) {
		return "", ErrInvalidName
	}
	err := s.reg.Update(ctx, func(ps registry.Platforms) (bool, error) {
		if _, ok := ps[key]; ok {
			return false, ErrPlatformExists
		}
		ps[key] = registry.NewPlatform()
		return true, nil
	})
	if err != nil {
		return "", classify(err)
	}
	s.log.Info().Str("platform", key).Msg("platform created")
	s.record(ctx, store.KindPlatformCreate, key, nil)
	return key, nil
}

// DeleteResult reports what DeletePlatform did.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	Warning string `json:"warning,omitempty"`
}

// DeletePlatform removes a platform and then its binary. Deleting an
// unknown platform succeeds with Deleted false.
func (s *Service) DeletePlatform(ctx context.Context, name string) (DeleteResult, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	var (
		res  DeleteResult
		file string
	)
	err := s.reg.Update(ctx, func(ps registry.Platforms) (bool, error) {
		p, ok := ps[key]
		if !ok {
			return false, nil
		}
		if p.File != nil {
			file = *p.File
		}
		delete(ps, key)
		res.Deleted = true
		return true, nil
	})
	if err != nil {
		return DeleteResult{}, classify(err)
	}
	if !res.Deleted {
		return res, nil
	}
	if file != "" {
		if err := s.bins.Remove(file); err != nil {
			res.Warning = "binary not removed: " + err.Error()
			s.log.Warn().Err(err).Str("file", file).Msg("remove deleted platform binary")
		}
	}
	s.log.Info().Str("platform", key).Msg("platform deleted")
	s.record(ctx, store.KindPlatformDelete, key, func(e *store.Event) { e.Detail = file })
	return res, nil
}
