// Package security loads the Content-Security-Policy that production
// documents carry.
//
// A policy file maps directive names to their sources, either as JSON or
// YAML:
//
//	{
//	  "default-src": ["'self'"],
//	  "img-src": ["'self'", "data:"],
//	  "upgrade-insecure-requests": true
//	}
//
// Directives keep the order they have in the file.
package security

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
)

// HTTPEquiv is the http-equiv value of the policy meta tag.
const HTTPEquiv = "Content-Security-Policy"

var directiveNameRE = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Source yields the policy directive string. It is consulted once, when the
// production document is assembled.
type Source interface {
	Directive() (string, error)
}

// Directive is one policy directive and its source list.
type Directive struct {
	Name    string
	Sources []string
}

// Policy is an ordered set of directives.
type Policy struct {
	Directives []Directive
}

// String formats the policy the way browsers expect it in a header or a
// meta tag: "default-src 'self'; img-src 'self' data:".
func (p *Policy) String() string {
	parts := make([]string, 0, len(p.Directives))
	for _, d := range p.Directives {
		if len(d.Sources) == 0 {
			parts = append(parts, d.Name)
			continue
		}
		parts = append(parts, d.Name+" "+strings.Join(d.Sources, " "))
	}
	return strings.Join(parts, "; ")
}

// Directive implements Source.
func (p *Policy) Directive() (string, error) {
	s := p.String()
	if s == "" {
		return "", spaerrors.NewSecurityError(spaerrors.CodePolicyUnavailable, "policy has no directives", nil)
	}
	return s, nil
}

// Parse reads a policy document. JSON is accepted since it is valid YAML.
func Parse(data []byte) (*Policy, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("policy document is empty")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("policy must be a mapping of directive names, line %d", mapping.Line)
	}

	policy := &Policy{}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		name := strings.ToLower(strings.TrimSpace(key.Value))
		if !directiveNameRE.MatchString(name) {
			return nil, fmt.Errorf("invalid directive name %q, line %d", key.Value, key.Line)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate directive %q, line %d", name, key.Line)
		}
		seen[name] = true

		sources, include, err := directiveSources(value)
		if err != nil {
			return nil, fmt.Errorf("directive %q: %w", name, err)
		}
		if !include {
			continue
		}
		policy.Directives = append(policy.Directives, Directive{Name: name, Sources: sources})
	}
	return policy, nil
}

func directiveSources(n *yaml.Node) ([]string, bool, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!bool" {
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, false, err
			}
			return nil, b, nil
		}
		fields := strings.Fields(n.Value)
		for _, f := range fields {
			if err := checkSource(f); err != nil {
				return nil, false, err
			}
		}
		return fields, true, nil
	case yaml.SequenceNode:
		sources := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, false, fmt.Errorf("sources must be strings, line %d", item.Line)
			}
			src := strings.TrimSpace(item.Value)
			if src == "" {
				continue
			}
			if err := checkSource(src); err != nil {
				return nil, false, err
			}
			sources = append(sources, src)
		}
		return sources, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported value, line %d", n.Line)
	}
}

// checkSource rejects characters that would end the directive or the
// attribute early.
func checkSource(src string) error {
	if strings.ContainsAny(src, ";,\"<>") {
		return fmt.Errorf("source %q contains a forbidden character", src)
	}
	return nil
}

// LoadFile reads and parses a policy file.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// FileSource reads the policy from disk when asked for it.
type FileSource struct {
	Path string
}

// Directive implements Source.
func (f FileSource) Directive() (string, error) {
	if f.Path == "" {
		return "", spaerrors.NewSecurityError(spaerrors.CodePolicyUnavailable, "no policy file configured", nil)
	}
	policy, err := LoadFile(f.Path)
	if err != nil {
		return "", spaerrors.NewSecurityError(spaerrors.CodePolicyUnavailable, "cannot load policy", err).WithFile(f.Path)
	}
	return policy.Directive()
}
