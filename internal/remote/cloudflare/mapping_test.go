package cloudflare

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMapping_JSON(t *testing.T) {
	data := []byte(`{
  "prefixes": {
    "198.51.100.0/24": {"prefix_id": "pfx-1", "bgp_prefix_id": "bgp-1", "description": "edge", "asn": 64500},
    "203.0.113.0/24": {"prefix_id": "pfx-2"}
  }
}`)
	m, err := ParseMapping(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("len = %d, want 2", len(m))
	}
	p := m["198.51.100.0/24"]
	if p.PrefixID != "pfx-1" || p.BGPPrefixID != "bgp-1" || p.ASN != "64500" {
		t.Errorf("unexpected entry: %+v", p)
	}
	if m["203.0.113.0/24"].BGPPrefixID != "" {
		t.Error("bgp_prefix_id should be empty when omitted")
	}
}

func TestParseMapping_YAML(t *testing.T) {
	data := []byte(`
prefixes:
  198.51.100.0/24:
    prefix_id: pfx-1
    description: edge
`)
	m, err := ParseMapping(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["198.51.100.0/24"].Description != "edge" {
		t.Errorf("unexpected entry: %+v", m["198.51.100.0/24"])
	}
}

func TestParseMapping_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", `{}`},
		{"no prefixes", `{"prefixes": {}}`},
		{"missing prefix_id", `{"prefixes": {"10.0.0.0/24": {"bgp_prefix_id": "x"}}}`},
		{"malformed", `{"prefixes": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMapping([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefix_mapping.json")
	if err := os.WriteFile(path, []byte(`{"prefixes": {"10.0.0.0/24": {"prefix_id": "p"}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMapping(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m["10.0.0.0/24"]; !ok {
		t.Error("expected 10.0.0.0/24 in mapping")
	}

	if _, err := LoadMapping(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
