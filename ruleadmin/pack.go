package ruleadmin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/txrules/rules"
)

// Pack limits.
const (
	MaxPackRules = 500
)

// Pack is a YAML file of rules seeded into one scope.
//
//	rules:
//	  - name: Groceries
//	    priority: 10
//	    condition:
//	      operator: merchant_regex
//	      value: "(whole foods|trader joe|kroger)"
//	    action:
//	      type: set_category
//	      category_id: 12
type Pack struct {
	Rules []PackRule `yaml:"rules"`
}

// PackRule is one rule of a Pack. Condition and action use the same field
// names as the JSON wire format.
type PackRule struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Priority    *int           `yaml:"priority"`
	IsActive    *bool          `yaml:"is_active"`
	Condition   map[string]any `yaml:"condition"`
	Action      map[string]any `yaml:"action"`
}

// ParsePack decodes a YAML rule pack.
func ParsePack(r io.Reader) (*Pack, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Pack
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return &Pack{}, nil
		}
		return nil, fmt.Errorf("invalid rule pack: %w", err)
	}
	return &p, nil
}

// LoadPack reads and decodes the pack at path.
func LoadPack(path string) (*Pack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule pack: %w", err)
	}
	defer f.Close()
	return ParsePack(f)
}

// ValidatePack checks the shape of a pack before any rule is compiled.
func ValidatePack(p *Pack) error {
	if p == nil || len(p.Rules) == 0 {
		return fmt.Errorf("rule pack cannot be empty, must contain at least one rule")
	}
	if len(p.Rules) > MaxPackRules {
		return fmt.Errorf("rule pack contains %d rules, maximum allowed is %d", len(p.Rules), MaxPackRules)
	}

	seen := make(map[string]int, len(p.Rules))
	for i, r := range p.Rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		if first, dup := seen[strings.ToLower(name)]; dup {
			return fmt.Errorf("rule name %q is used by rules %d and %d", name, first, i)
		}
		seen[strings.ToLower(name)] = i
		if r.Condition == nil {
			return fmt.Errorf("rule %q has no condition", name)
		}
		if r.Action == nil {
			return fmt.Errorf("rule %q has no action", name)
		}
	}
	return nil
}

// Definition converts the rule to the authoring payload with priority and
// is_active defaults filled in.
func (r PackRule) Definition() (rules.RuleDefinition, error) {
	cond, err := json.Marshal(normalize(r.Condition))
	if err != nil {
		return rules.RuleDefinition{}, fmt.Errorf("failed to encode condition: %w", err)
	}
	action, err := json.Marshal(normalize(r.Action))
	if err != nil {
		return rules.RuleDefinition{}, fmt.Errorf("failed to encode action: %w", err)
	}

	priority := rules.MinPriority
	if r.Priority != nil {
		priority = *r.Priority
	}
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return rules.RuleDefinition{
		Name:        r.Name,
		Description: &r.Description,
		Condition:   cond,
		Action:      action,
		Priority:    &priority,
		IsActive:    &active,
	}, nil
}

// normalize turns YAML-decoded values into values encoding/json accepts and
// the condition parser understands.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	default:
		return v
	}
}
