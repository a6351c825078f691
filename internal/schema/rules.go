package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/pkg/exception"
)

// FieldType is a storage primitive a rule field may declare.
type FieldType string

const (
	FieldText FieldType = "TEXT"
	FieldInt  FieldType = "INT"
)

// Field maps one semantic payload key to a column alias and type.
type Field struct {
	Source string    `yaml:"source"`
	Alias  string    `yaml:"alias"`
	Type   FieldType `yaml:"type"`
}

// RuleSet describes the columns and primary key of one table category.
type RuleSet struct {
	Fields     []Field `yaml:"fields"`
	PrimaryKey string  `yaml:"primary_key"`
}

// Rules maps a logical table category to its rule set. Rules are resolved
// once at startup and passed by reference to the persistence layer.
type Rules map[string]RuleSet

// LoadRules reads and validates a YAML rules description.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read rules file")
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, errors.Wrap(err, "unmarshal rules file")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate rejects unsupported declared types and dangling primary keys.
// Failing here keeps a bad rules file a startup error, not a per-row one.
func (r Rules) Validate() error {
	for category, rs := range r {
		if len(rs.Fields) == 0 {
			return errors.Errorf("rule set %q has no fields", category)
		}
		pkFound := false
		for _, f := range rs.Fields {
			switch f.Type {
			case FieldText, FieldInt:
			default:
				return errors.Wrapf(exception.ErrUnsupportedFieldType, "rule set %q field %q declares %q", category, f.Source, f.Type)
			}
			if f.Source == "" || f.Alias == "" {
				return errors.Errorf("rule set %q has a field with empty source or alias", category)
			}
			if f.Alias == rs.PrimaryKey {
				pkFound = true
			}
		}
		if rs.PrimaryKey == "" || !pkFound {
			return errors.Wrapf(exception.ErrBadPrimaryKey, "rule set %q declares primary key %q", category, rs.PrimaryKey)
		}
	}
	return nil
}

// Resolve returns the rule set for a table category.
func (r Rules) Resolve(category string) (RuleSet, bool) {
	rs, ok := r[category]
	return rs, ok
}

// CreateTableSQL renders idempotent DDL for a rules-driven table.
func (rs RuleSet) CreateTableSQL(table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(table))
	for _, f := range rs.Fields {
		fmt.Fprintf(&b, "%s %s, ", quoteIdent(f.Alias), columnType(f.Type))
	}
	fmt.Fprintf(&b, "PRIMARY KEY (%s))", quoteIdent(rs.PrimaryKey))
	return b.String()
}

// InsertSQL renders a parameterized insert over every rule field, in rule
// order. ignoreDup absorbs duplicate primary keys silently.
func (rs RuleSet) InsertSQL(table string, ignoreDup bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (", quoteIdent(table))
	for i, f := range rs.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(f.Alias))
	}
	b.WriteString(") VALUES (")
	for i := range rs.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(")")
	if ignoreDup {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	return b.String()
}

// Values extracts and converts the rule fields from a decoded payload, in
// rule order. A field absent from the payload is an error.
func (rs RuleSet) Values(data map[string]any) ([]any, error) {
	values := make([]any, 0, len(rs.Fields))
	for _, f := range rs.Fields {
		raw, ok := data[f.Source]
		if !ok {
			return nil, errors.Wrapf(exception.ErrMissingField, "field %q", f.Source)
		}
		v, err := convert(raw, f.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", f.Source)
		}
		values = append(values, v)
	}
	return values, nil
}

func convert(raw any, t FieldType) (any, error) {
	switch t {
	case FieldText:
		return fmt.Sprint(raw), nil
	case FieldInt:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			return int64(v), nil
		case json.Number:
			return v.Int64()
		case string:
			return strconv.ParseInt(v, 10, 64)
		default:
			return nil, errors.Errorf("cannot convert %T to INT", raw)
		}
	default:
		return nil, errors.Wrapf(exception.ErrUnsupportedFieldType, "%q", t)
	}
}

func columnType(t FieldType) string {
	if t == FieldInt {
		return "BIGINT"
	}
	return "TEXT"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
