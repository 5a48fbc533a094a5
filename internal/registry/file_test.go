package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "platforms.yml"))
	ps, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ps) != 0 {
		t.Fatalf("len = %d, want 0", len(ps))
	}
}

func TestDecodeMappingForm(t *testing.T) {
	doc := `
ESP8266-Sensor:
  version: 1.2.0
  file: esp8266-sensor_1_2_0.bin
  uploaded: 2019-05-01
  downloads: 3
  otaargs: '{"interval": 60}'
  accesslist:
    AABBCCDDEEFF: {}
    112233445566:
      otaargs: fast
`
	ps, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, ok := ps["esp8266-sensor"]
	if !ok {
		t.Fatalf("platform name not lowercased: %v", ps.Names())
	}
	if p.Version == nil || *p.Version != "1.2.0" {
		t.Errorf("version = %v", p.Version)
	}
	if p.Uploaded == nil || p.Uploaded.String() != "2019-05-01" {
		t.Errorf("uploaded = %v", p.Uploaded)
	}
	if p.Downloads != 3 {
		t.Errorf("downloads = %d", p.Downloads)
	}
	if !p.Listed("aabbccddeeff") {
		t.Error("aabbccddeeff not listed")
	}
	e, ok := p.AccessList["112233445566"]
	if !ok || e.OTAArgs == nil || *e.OTAArgs != "fast" {
		t.Errorf("numeric-looking address entry = %+v, %v", e, ok)
	}
}

func TestDecodeLegacyForms(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"whitelist key", "p1:\n  whitelist:\n    aa:bb:cc:dd:ee:ff: {}\n"},
		{"list form", "p1:\n  accesslist:\n    - AA-BB-CC-DD-EE-FF\n"},
		{"legacy list under whitelist", "p1:\n  whitelist: [aabbccddeeff]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := Decode([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !ps["p1"].Listed("aabbccddeeff") {
				t.Fatalf("access list = %v", ps["p1"].AccessList)
			}
		})
	}
}

func TestDecodeNullAccessList(t *testing.T) {
	ps, err := Decode([]byte("p1:\n  version: null\n  accesslist:\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ps["p1"].AccessList == nil || len(ps["p1"].AccessList) != 0 {
		t.Fatalf("access list = %#v", ps["p1"].AccessList)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad version":        "p1:\n  version: banana\n",
		"negative downloads": "p1:\n  downloads: -1\n",
		"scalar access list": "p1:\n  accesslist: nope\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yml")
	s := NewFileStore(path)

	p := NewPlatform()
	args := "x=1"
	p.OTAArgs = &args
	p.AccessList["aabbccddeeff"] = AccessEntry{}
	p.AccessList["001122334455"] = AccessEntry{}
	ps := Platforms{"esp": p}
	if err := s.Save(ps); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "accesslist:") {
		t.Fatalf("saved document missing accesslist:\n%s", raw)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got["esp"].Listed("001122334455") || !got["esp"].Listed("aabbccddeeff") {
		t.Fatalf("access list lost: %v", got["esp"].AccessList)
	}
	if got["esp"].Version != nil || got["esp"].File != nil || got["esp"].Uploaded != nil {
		t.Fatalf("nullable fields not preserved: %+v", got["esp"])
	}
	if *got["esp"].OTAArgs != "x=1" {
		t.Fatalf("otaargs = %q", *got["esp"].OTAArgs)
	}
}
