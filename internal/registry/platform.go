// Package registry owns the durable record of firmware platforms: their
// current binary, access lists and OTA arguments.
//
// The registry is a single YAML document. Every operation loads the whole
// document, mutates it in memory and writes it back; nothing is cached
// between operations.
package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the on-disk and wire format of Platform.Uploaded.
const DateLayout = "2006-01-02"

var nameRe = regexp.MustCompile(`^[a-z0-9._-]{1,64}$`)

// Date is a calendar day without time-of-day.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(DateLayout) }

// MarshalYAML implements yaml.Marshaler.
func (d Date) MarshalYAML() (interface{}, error) { return d.String(), nil }

// UnmarshalYAML accepts a bare date or a full timestamp.
func (d *Date) UnmarshalYAML(n *yaml.Node) error {
	v := strings.TrimSpace(n.Value)
	if len(v) > len(DateLayout) {
		v = v[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return fmt.Errorf("line %d: invalid date %q", n.Line, n.Value)
	}
	d.Time = t
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q", s)
	}
	d.Time = t
	return nil
}

// AccessEntry is one device on a platform's access list.
type AccessEntry struct {
	// OTAArgs overrides the platform default for this device when set.
	OTAArgs *string `yaml:"otaargs,omitempty" json:"otaargs,omitempty"`
}

// Platform is one family of devices sharing a firmware image.
type Platform struct {
	Version    *string                `yaml:"version" json:"version"`
	File       *string                `yaml:"file" json:"file"`
	Uploaded   *Date                  `yaml:"uploaded" json:"uploaded"`
	Downloads  int                    `yaml:"downloads" json:"downloads"`
	OTAArgs    *string                `yaml:"otaargs" json:"otaargs"`
	AccessList map[string]AccessEntry `yaml:"accesslist" json:"accesslist"`
}

// NewPlatform returns an empty platform: no firmware, no devices.
func NewPlatform() *Platform {
	return &Platform{AccessList: make(map[string]AccessEntry)}
}

// Listed reports whether the normalized MAC is on the access list.
func (p *Platform) Listed(mac string) bool {
	_, ok := p.AccessList[mac]
	return ok
}

// SetBinary records a newly published firmware image and resets the
// download counter.
func (p *Platform) SetBinary(version, file string, day Date) {
	p.Version = &version
	p.File = &file
	p.Uploaded = &day
	p.Downloads = 0
}

// Platforms maps lowercase platform names to their records.
type Platforms map[string]*Platform

// Names returns the platform names in lexicographic order.
func (ps Platforms) Names() []string {
	names := make([]string, 0, len(ps))
	for n := range ps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FindByMAC returns the platform whose access list contains mac.
func (ps Platforms) FindByMAC(mac string) (string, bool) {
	for _, n := range ps.Names() {
		if ps[n].Listed(mac) {
			return n, true
		}
	}
	return "", false
}

// ValidName reports whether name is usable as a platform key.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// Validate checks the invariants a loaded document must hold.
func (ps Platforms) Validate() error {
	for _, n := range ps.Names() {
		p := ps[n]
		if p.Downloads < 0 {
			return fmt.Errorf("platform %q: negative download count", n)
		}
		if p.Version != nil {
			if _, err := ParseVersion(*p.Version); err != nil {
				return fmt.Errorf("platform %q: %w", n, err)
			}
		}
	}
	return nil
}
