package ota

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/store"
)

// PublishRequest carries an uploaded firmware image. Platform is optional;
// when empty the platform is detected from the image contents.
type PublishRequest struct {
	Blob     []byte
	Platform string
}

// PublishResult describes an accepted image.
type PublishResult struct {
	Platform string `json:"platform"`
	Version  string `json:"version"`
	File     string `json:"file"`
	Previous string `json:"previous,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// Publish installs a new firmware image as its platform's current binary.
// The image is written before the registry is saved and removed again if
// the save fails. The previous image is deleted only after the save; a
// failure there is reported in Warning.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if len(req.Blob) == 0 {
		return PublishResult{}, ErrEmptyBlob
	}
	explicit := strings.ToLower(strings.TrimSpace(req.Platform))

	var (
		res     PublishResult
		written string
	)
	err := s.reg.Update(ctx, func(ps registry.Platforms) (bool, error) {
		name := explicit
		if name == "" {
			var ok bool
			if name, ok = DetectPlatform(ps.Names(), req.Blob); !ok {
				return false, ErrNoPlatformInBlob
			}
		}
		p, ok := ps[name]
		if !ok {
			return false, ErrUnknownPlatform
		}

		tok, ok := registry.FindVersionToken(req.Blob)
		if !ok {
			return false, ErrNoVersionInBlob
		}
		next, err := registry.ParseVersion(tok.String())
		if err != nil {
			return false, ErrNoVersionInBlob.with(err)
		}
		if p.Version != nil {
			current, err := registry.ParseVersion(*p.Version)
			if err != nil {
				return false, ErrPersistence.with(err)
			}
			if !next.GreaterThan(current) {
				return false, ErrVersionNotIncreased
			}
		}

		file := tok.Filename(name)
		if err := s.bins.Write(file, req.Blob); err != nil {
			return false, ErrPersistence.with(err)
		}
		written = file

		if p.File != nil && *p.File != file {
			res.Previous = *p.File
		}
		p.SetBinary(next.String(), file, registry.NewDate(s.now()))
		res.Platform = name
		res.Version = next.String()
		res.File = file
		return true, nil
	})
	if err != nil {
		var se *registry.StoreError
		if written != "" && errors.As(err, &se) {
			if rmErr := s.bins.Remove(written); rmErr != nil {
				s.log.Warn().Err(rmErr).Str("file", written).Msg("remove unsaved binary")
			}
		}
		return PublishResult{}, classify(err)
	}

	if res.Previous != "" {
		if err := s.bins.Remove(res.Previous); err != nil {
			res.Warning = "previous binary not removed: " + err.Error()
			s.log.Warn().Err(err).Str("file", res.Previous).Msg("remove previous binary")
		}
	}
	s.log.Info().Str("platform", res.Platform).Str("version", res.Version).Str("file", res.File).Msg("firmware published")
	s.record(ctx, store.KindPublish, res.Platform, func(e *store.Event) {
		e.Version = res.Version
		e.Detail = res.File
	})
	return res, nil
}

// DetectPlatform returns the first name found in blob, ignoring ASCII case.
// Longer names are tried first so that "esp32" wins over "esp"; names of
// equal length are tried in lexicographic order.
func DetectPlatform(names []string, blob []byte) (string, bool) {
	ordered := append([]string(nil), names...)
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})
	lower := asciiLower(blob)
	for _, n := range ordered {
		if n != "" && bytes.Contains(lower, asciiLower([]byte(n))) {
			return n, true
		}
	}
	return "", false
}

func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
