package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/avaropoint/espota/internal/fsutil"
)

// Store loads and saves the whole platform document.
type Store interface {
	Load() (Platforms, error)
	Save(Platforms) error
}

// FileStore keeps the registry in a YAML file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// rawPlatform mirrors Platform but leaves the access list undecoded so the
// legacy forms can be migrated.
type rawPlatform struct {
	Version    *string   `yaml:"version"`
	File       *string   `yaml:"file"`
	Uploaded   *Date     `yaml:"uploaded"`
	Downloads  int       `yaml:"downloads"`
	OTAArgs    *string   `yaml:"otaargs"`
	AccessList yaml.Node `yaml:"accesslist"`
	Whitelist  yaml.Node `yaml:"whitelist"`
}

// Load reads the document. A missing or empty file is an empty registry.
func (s *FileStore) Load() (Platforms, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Platforms{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Decode(data)
}

// Decode parses a registry document, migrating legacy access-list forms
// and lowercasing platform names.
func Decode(data []byte) (Platforms, error) {
	var raw map[string]rawPlatform
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	ps := make(Platforms, len(raw))
	for name, r := range raw {
		key := strings.ToLower(name)
		if _, dup := ps[key]; dup {
			return nil, fmt.Errorf("parse registry: duplicate platform %q", key)
		}
		node := &r.AccessList
		if node.Kind == 0 {
			node = &r.Whitelist
		}
		list, err := decodeAccessList(node)
		if err != nil {
			return nil, fmt.Errorf("parse registry: platform %q: %w", key, err)
		}
		ps[key] = &Platform{
			Version:    r.Version,
			File:       r.File,
			Uploaded:   r.Uploaded,
			Downloads:  r.Downloads,
			OTAArgs:    r.OTAArgs,
			AccessList: list,
		}
	}
	if err := ps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}
	return ps, nil
}

// decodeAccessList accepts the mapping form, the legacy sequence form and
// absent or null values. Keys are read from the node text so numeric-looking
// addresses survive unchanged.
func decodeAccessList(n *yaml.Node) (map[string]AccessEntry, error) {
	list := make(map[string]AccessEntry)
	switch n.Kind {
	case 0:
		return list, nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" || n.Value == "" {
			return list, nil
		}
		return nil, fmt.Errorf("line %d: access list must be a mapping", n.Line)
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: access list item must be an address", item.Line)
			}
			list[NormalizeMAC(item.Value)] = AccessEntry{}
		}
		return list, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			var e AccessEntry
			if !(v.Kind == yaml.ScalarNode && v.Tag == "!!null") {
				if err := v.Decode(&e); err != nil {
					return nil, fmt.Errorf("address %s: %w", k.Value, err)
				}
			}
			list[NormalizeMAC(k.Value)] = e
		}
		return list, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported access list form", n.Line)
	}
}

// Encode renders the document in its canonical form.
func Encode(ps Platforms) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*Platform(ps)); err != nil {
		return nil, fmt.Errorf("encode registry: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode registry: %w", err)
	}
	return buf.Bytes(), nil
}

// Save replaces the document atomically.
func (s *FileStore) Save(ps Platforms) error {
	data, err := Encode(ps)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
