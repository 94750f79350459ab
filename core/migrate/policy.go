package migrate

import (
	"fmt"
	"os"

	"github.com/anvil-works/protostore/core/schema"
	"gopkg.in/yaml.v3"
)

// Widening is one allowed in-place type change. Only lossless directions
// belong here; the resolver refuses everything else.
type Widening struct {
	From schema.SemanticType `yaml:"from"`
	To   schema.SemanticType `yaml:"to"`
}

// Policy controls how conservative the resolver is. The zero value is the most
// conservative configuration: nothing destructive, no widenings.
type Policy struct {
	// AllowDestructive permits DropColumn steps for live columns the registry
	// no longer knows. When false such columns halt planning instead of being
	// silently discarded.
	AllowDestructive bool `yaml:"allow_destructive"`
	// Widenings is the set of permitted in-place type changes. The allowed set
	// is configuration rather than a hard-coded assumption.
	Widenings []Widening `yaml:"widenings"`
}

// DefaultPolicy returns the stock policy: non-destructive, with the two
// widenings that are lossless on every supported dialect.
func DefaultPolicy() Policy {
	return Policy{
		Widenings: []Widening{
			{From: schema.TypeInteger, To: schema.TypeFloat},
			{From: schema.TypeInteger, To: schema.TypeText},
		},
	}
}

// LoadPolicy reads a policy from a YAML file.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return p, nil
}

// AllowsWidening reports whether an in-place change from one semantic type to
// another is a registered widening.
func (p Policy) AllowsWidening(from, to schema.SemanticType) bool {
	for _, w := range p.Widenings {
		if w.From == from && w.To == to {
			return true
		}
	}
	return false
}
