package normalize

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule rewrites a zoning code on sales contracted before a cutoff.
type Rule struct {
	From   string
	To     string
	Before time.Time
}

// zoningReform is the date environmental zones E2-E4 were renamed C2-C4.
var zoningReform = time.Date(2021, time.December, 1, 0, 0, 0, 0, time.UTC)

// DefaultZoningRules maps pre-reform environmental zones to their current names.
func DefaultZoningRules() []Rule {
	return []Rule{
		{From: "E2", To: "C2", Before: zoningReform},
		{From: "E3", To: "C3", Before: zoningReform},
		{From: "E4", To: "C4", Before: zoningReform},
	}
}

type rulesFile struct {
	Rules []struct {
		From   string `yaml:"from"`
		To     string `yaml:"to"`
		Before string `yaml:"before"`
	} `yaml:"rules"`
}

// LoadZoningRules reads rules from a YAML file of the form:
//
//	rules:
//	  - from: E2
//	    to: C2
//	    before: "2021-12-01"
func LoadZoningRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zoning rules: %w", err)
	}
	return ParseZoningRules(data)
}

// ParseZoningRules decodes YAML rules. Every rule needs from, to and a
// YYYY-MM-DD before date. A rule may not map onto another rule's from code,
// so remapping an already remapped row changes nothing.
func ParseZoningRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse zoning rules: %w", err)
	}

	var errs []error
	rules := make([]Rule, 0, len(f.Rules))
	for i, r := range f.Rules {
		if r.From == "" || r.To == "" {
			errs = append(errs, fmt.Errorf("rule %d: from and to are required", i))
			continue
		}
		before, err := time.Parse("2006-01-02", r.Before)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: invalid before date %q", i, r.Before))
			continue
		}
		rules = append(rules, Rule{From: r.From, To: r.To, Before: before})
	}
	if err := checkChains(rules); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

// checkChains reports rules whose target is the source of another rule.
func checkChains(rules []Rule) error {
	from := make(map[string]bool, len(rules))
	for _, r := range rules {
		from[r.From] = true
	}

	var errs []error
	for i, r := range rules {
		if from[r.To] {
			errs = append(errs, fmt.Errorf("rule %d: target %q is also remapped by another rule", i, r.To))
		}
	}
	return errors.Join(errs...)
}
