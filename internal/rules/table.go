package rules

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Table is the on-disk rule file.
type Table struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultTable returns the built-in joint replacement and maternity rules.
func DefaultTable() Table {
	return Table{Rules: []Rule{
		{
			Name:          "joint_replacement",
			Match:         Match{ProcedureAny: []string{"knee", "joint"}},
			WaitingMonths: 24,
			ApproveAmount: 150000,
			RejectText:    "Joint replacement surgery requires 24 months waiting period",
			ApproveText:   "Joint replacement surgery covered after waiting period",
		},
		{
			Name:          "maternity",
			Match:         Match{QueryAny: []string{"maternity"}},
			WaitingMonths: 24,
			ApproveAmount: 50000,
			RejectText:    "Maternity benefits require 24 months waiting period",
			ApproveText:   "Maternity benefits covered after waiting period",
		},
	}}
}

// LoadTable reads a YAML rule table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, eris.Wrapf(err, "rules: read %s", path)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML rule table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, eris.Wrap(err, "rules: decode table")
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Validate checks that every rule can fire and produces a usable verdict.
func (t Table) Validate() error {
	if len(t.Rules) == 0 {
		return eris.New("rules: table has no rules")
	}
	seen := make(map[string]bool, len(t.Rules))
	for i, r := range t.Rules {
		switch {
		case r.Name == "":
			return eris.Errorf("rules: rule %d has no name", i)
		case seen[r.Name]:
			return eris.Errorf("rules: duplicate rule %q", r.Name)
		case len(r.Match.ProcedureAny) == 0 && len(r.Match.QueryAny) == 0:
			return eris.Errorf("rules: rule %q matches nothing", r.Name)
		case r.WaitingMonths < 0:
			return eris.Errorf("rules: rule %q has negative waiting period", r.Name)
		case r.ApproveAmount < 0:
			return eris.Errorf("rules: rule %q has negative amount", r.Name)
		case r.RejectText == "" || r.ApproveText == "":
			return eris.Errorf("rules: rule %q needs reject_text and approve_text", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}
