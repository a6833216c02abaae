package cloudflare

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Prefix is one entry of the prefix mapping file.
type Prefix struct {
	PrefixID    string `yaml:"prefix_id" json:"prefix_id"`
	BGPPrefixID string `yaml:"bgp_prefix_id" json:"bgp_prefix_id"`
	Description string `yaml:"description" json:"description"`
	ASN         string `yaml:"asn" json:"asn"`
}

// Mapping resolves a CIDR resource key to Cloudflare identifiers.
type Mapping map[string]Prefix

type mappingFile struct {
	Prefixes Mapping `yaml:"prefixes"`
}

// ParseMapping parses a mapping document. JSON is valid YAML, so both the
// legacy prefix_mapping.json and a YAML file are accepted.
func ParseMapping(data []byte) (Mapping, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prefix mapping: %w", err)
	}
	if len(f.Prefixes) == 0 {
		return nil, fmt.Errorf("parse prefix mapping: no prefixes defined")
	}
	for cidr, p := range f.Prefixes {
		if p.PrefixID == "" {
			return nil, fmt.Errorf("parse prefix mapping: %s has no prefix_id", cidr)
		}
	}
	return f.Prefixes, nil
}

// LoadMapping reads and parses the mapping file at path.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prefix mapping: %w", err)
	}
	return ParseMapping(data)
}
