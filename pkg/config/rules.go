package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldRule maps one output field to its raw extraction expression
// ("css:...", "xpath:...", "re:..." or a bare CSS selector).
type FieldRule struct {
	Field      string
	Expression string
}

// ExtractionRules is the ordered data_extraction mapping.
// A plain map would lose the file order, which decides the field order of text output.
type ExtractionRules []FieldRule

// Fields returns the field names in order
func (r ExtractionRules) Fields() []string {
	names := make([]string, len(r))
	for i, rule := range r {
		names[i] = rule.Field
	}
	return names
}

// UnmarshalYAML accepts either a mapping (field: expression) or a sequence of
// single-key mappings. Duplicate field names are rejected.
func (r *ExtractionRules) UnmarshalYAML(value *yaml.Node) error {
	var rules ExtractionRules
	seen := make(map[string]bool)

	add := func(k, v *yaml.Node) error {
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: data_extraction entries must be field: expression", k.Line)
		}
		if seen[k.Value] {
			return fmt.Errorf("line %d: duplicate data_extraction field %q", k.Line, k.Value)
		}
		seen[k.Value] = true
		rules = append(rules, FieldRule{Field: k.Value, Expression: v.Value})
		return nil
	}

	switch value.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			if err := add(value.Content[i], value.Content[i+1]); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return fmt.Errorf("line %d: data_extraction list items must be single-key mappings", item.Line)
			}
			if err := add(item.Content[0], item.Content[1]); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			break
		}
		fallthrough
	default:
		return fmt.Errorf("line %d: data_extraction must be a mapping", value.Line)
	}

	*r = rules
	return nil
}

// MarshalYAML writes the rules back as an ordered mapping
func (r ExtractionRules) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, rule := range r {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: rule.Field},
			&yaml.Node{Kind: yaml.ScalarNode, Value: rule.Expression},
		)
	}
	return node, nil
}
