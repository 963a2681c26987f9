package validator

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Skryldev/useradmin/db"
)

//go:embed rules.yaml
var shippedRules []byte

// Names of the shipped rule sets.
const (
	LoginRules    = "login"
	RegisterRules = "register"
	ProfileRules  = "profile"
)

// ParseRules decodes a single YAML rule set:
//
//	username:
//	  required: true
//	  min: 4
//
// Field and rule order in the document is kept.
func ParseRules(data []byte) (RuleSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("useradmin/validator: parse rules: %w", err)
	}
	root, err := documentMapping(&doc)
	if err != nil {
		return nil, err
	}
	return decodeRuleSet(root)
}

// ParseRuleSets decodes a YAML document of named rule sets.
func ParseRuleSets(data []byte) (map[string]RuleSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("useradmin/validator: parse rule sets: %w", err)
	}
	root, err := documentMapping(&doc)
	if err != nil {
		return nil, err
	}
	sets := make(map[string]RuleSet, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		rs, err := decodeRuleSet(root.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("useradmin/validator: rule set %q: %w", name, err)
		}
		sets[name] = rs
	}
	return sets, nil
}

// Shipped returns one of the rule sets compiled into the binary.
func Shipped(name string) (RuleSet, error) {
	sets, err := ParseRuleSets(shippedRules)
	if err != nil {
		return nil, err
	}
	rs, ok := sets[name]
	if !ok {
		return nil, db.Misconfigured("rule set %q not found", name)
	}
	return rs, nil
}

// NewLogin builds a validator for the login form.
func NewLogin(opts ...Option) (*Validator, error) {
	rs, err := Shipped(LoginRules)
	if err != nil {
		return nil, err
	}
	return New(rs, opts...)
}

// NewRegister builds a validator for the registration form. f backs the
// unique checks on username and email.
func NewRegister(f Finder, opts ...Option) (*Validator, error) {
	rs, err := Shipped(RegisterRules)
	if err != nil {
		return nil, err
	}
	return New(rs, append([]Option{WithFinder(f)}, opts...)...)
}

// NewProfile builds a validator for the profile update form.
func NewProfile(opts ...Option) (*Validator, error) {
	rs, err := Shipped(ProfileRules)
	if err != nil {
		return nil, err
	}
	return New(rs, opts...)
}

func documentMapping(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		return &yaml.Node{Kind: yaml.MappingNode}, nil
	}
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, db.Misconfigured("rules must be a mapping, line %d", root.Line)
	}
	return root, nil
}

func decodeRuleSet(n *yaml.Node) (RuleSet, error) {
	if n.Kind != yaml.MappingNode {
		return nil, db.Misconfigured("rule set must be a mapping, line %d", n.Line)
	}
	rs := make(RuleSet, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		field := Field{Name: n.Content[i].Value}
		rules := n.Content[i+1]

		switch {
		case rules.Kind == yaml.MappingNode:
			for j := 0; j+1 < len(rules.Content); j += 2 {
				var param any
				if err := rules.Content[j+1].Decode(&param); err != nil {
					return nil, fmt.Errorf("useradmin/validator: field %q rule %q: %w",
						field.Name, rules.Content[j].Value, err)
				}
				field.Rules = append(field.Rules, Rule{Name: rules.Content[j].Value, Param: param})
			}
		case rules.Tag == "!!null":
			// field declared without rules; Validate reports it
		default:
			return nil, db.Misconfigured("rules for field %q must be a mapping, line %d", field.Name, rules.Line)
		}
		rs = append(rs, field)
	}
	return rs, nil
}
