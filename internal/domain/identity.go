package domain

import (
	"fmt"
	"regexp"
)

// IdentityConfig describes the Barton ID scheme. It is injected rather than
// hardcoded so stores and tests can run with any prefix layout.
type IdentityConfig struct {
	IDFormat       string                `mapstructure:"id_format"`
	EntityPrefixes map[EntityKind]string `mapstructure:"entity_prefixes"`
}

// DefaultIdentityConfig matches the NN.NN.NN.NN.NNNNN.NNN layout used by existing data.
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		IDFormat: `^\d{2}\.\d{2}\.\d{2}\.\d{2}\.\d{5}\.\d{3}$`,
		EntityPrefixes: map[EntityKind]string{
			EntityKindCompany: "04.04.01.01",
			EntityKindPeople:  "04.04.02.01",
		},
	}
}

// IDScheme validates and allocates unique ids.
type IDScheme struct {
	pattern  *regexp.Regexp
	prefixes map[EntityKind]string
}

const (
	sequenceBlock  = 100000
	maxBlockSuffix = 999
)

// NewIDScheme compiles the configured format.
func NewIDScheme(cfg IdentityConfig) (*IDScheme, error) {
	pattern, err := regexp.Compile(cfg.IDFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid id format: %w", err)
	}
	prefixes := make(map[EntityKind]string, len(cfg.EntityPrefixes))
	for kind, prefix := range cfg.EntityPrefixes {
		prefixes[kind] = prefix
	}
	return &IDScheme{pattern: pattern, prefixes: prefixes}, nil
}

// Pattern exposes the compiled id format.
func (s *IDScheme) Pattern() *regexp.Regexp {
	return s.pattern
}

// Valid reports whether id matches the configured format.
func (s *IDScheme) Valid(id string) bool {
	return s.pattern.MatchString(id)
}

// Generate renders sequence number seq (starting at 1) as PREFIX.NNNNN.NNN.
// The five-digit block rolls over into the three-digit suffix every 100000 ids.
func (s *IDScheme) Generate(kind EntityKind, seq int64) (string, error) {
	prefix, ok := s.prefixes[kind]
	if !ok {
		return "", fmt.Errorf("no id prefix configured for %s", kind)
	}
	if seq < 1 {
		return "", fmt.Errorf("sequence must be positive, got %d", seq)
	}
	suffix := seq/sequenceBlock + 1
	if suffix > maxBlockSuffix {
		return "", fmt.Errorf("sequence %d exhausts id space for %s", seq, kind)
	}
	id := fmt.Sprintf("%s.%05d.%03d", prefix, seq%sequenceBlock, suffix)
	if !s.Valid(id) {
		return "", fmt.Errorf("generated id %s does not match configured format", id)
	}
	return id, nil
}
