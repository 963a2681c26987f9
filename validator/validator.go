// Package validator runs a declarative rule set against submitted form data
// and collects per-field error messages.
//
// Rule names are resolved to rule functions when the Validator is built, so
// an unknown rule or a parameter of the wrong type is reported by New rather
// than in the middle of a request. Such problems, and a mismatch between the
// submitted fields and the rule set, are configuration errors
// (db.ErrMisconfigured). User input that breaks a rule never produces an
// error; it shows up in Errors().
package validator

import (
	"context"
	"sort"
	"strings"

	"github.com/Skryldev/useradmin/db"
)

// ─────────────────────────────────────────────────────────────────────────────
// Rule set
// ─────────────────────────────────────────────────────────────────────────────

// Rule is one named constraint and its parameter: a bool flag, an int bound,
// a string reference or a list of strings depending on the rule.
type Rule struct {
	Name  string
	Param any
}

// Field is a field name and its rules, in evaluation order.
type Field struct {
	Name  string
	Rules []Rule
}

// RuleSet is an ordered list of fields.
type RuleSet []Field

// Messages overrides default messages: field → rule → message.
type Messages map[string]map[string]string

// Finder is what the unique rule needs from a mapper.
type Finder interface {
	ModelName() (string, error)
	TableName() (string, error)
	QuoteIdent(name string) string
	Exists(ctx context.Context, where string) (bool, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Validator
// ─────────────────────────────────────────────────────────────────────────────

type compiledRule struct {
	name string
	fn   ruleFunc
}

type compiledField struct {
	name  string
	rules []compiledRule
}

// Validator holds a compiled rule set and the errors of the last run.
// It is not safe for concurrent use; build one per request.
type Validator struct {
	fields   []compiledField
	known    map[string]struct{}
	messages Messages
	finder   Finder
	errors   map[string][]string
}

// Option configures a Validator.
type Option func(*Validator)

// WithMessages installs custom messages. Messages for a value of the wrong
// type are never overridden.
func WithMessages(m Messages) Option {
	return func(v *Validator) { v.messages = m }
}

// WithFinder sets the lookup used by the unique rule.
func WithFinder(f Finder) Option {
	return func(v *Validator) { v.finder = f }
}

// New compiles rules. It fails with db.ErrMisconfigured on an unknown rule
// name or a parameter the rule cannot use.
func New(rules RuleSet, opts ...Option) (*Validator, error) {
	v := &Validator{
		fields: make([]compiledField, 0, len(rules)),
		known:  make(map[string]struct{}, len(rules)),
	}
	for _, opt := range opts {
		opt(v)
	}

	for _, f := range rules {
		cf := compiledField{name: f.Name, rules: make([]compiledRule, 0, len(f.Rules))}
		for _, r := range f.Rules {
			build, ok := registry[r.Name]
			if !ok {
				return nil, db.Misconfigured("unknown rule %q for field %q", r.Name, f.Name)
			}
			fn, err := build(r.Param)
			if err != nil {
				return nil, err
			}
			cf.rules = append(cf.rules, compiledRule{name: r.Name, fn: fn})
		}
		v.fields = append(v.fields, cf)
		v.known[f.Name] = struct{}{}
	}
	return v, nil
}

// MustNew is like New but panics on error.
func MustNew(rules RuleSet, opts ...Option) *Validator {
	v, err := New(rules, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks data against the rule set. Every key of data must have
// rules and every field in the rule set must have at least one rule;
// otherwise it returns db.ErrMisconfigured without touching the previous
// result. Fields absent from data are validated as nil. A rule that fails
// with an error (a storage error from unique) leaves no errors behind.
func (v *Validator) Validate(ctx context.Context, data map[string]any) (*Validator, error) {
	var unknown []string
	for k := range data {
		if _, ok := v.known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return v, db.Misconfigured("following field name(s) absent from rules: %s", quoteList(unknown))
	}

	var empty []string
	for _, f := range v.fields {
		if len(f.rules) == 0 {
			empty = append(empty, f.name)
		}
	}
	if len(empty) > 0 {
		return v, db.Misconfigured("no rules set for the following field name(s): %s", quoteList(empty))
	}

	v.Reset()

	for _, f := range v.fields {
		value := data[f.name]
		for _, r := range f.rules {
			msg, err := r.fn(ctx, call{v: v, rule: r.name, field: f.name, value: value, data: data})
			if err != nil {
				v.Reset()
				return v, err
			}
			if msg != "" {
				v.addError(f.name, msg)
			}
		}
	}
	return v, nil
}

// Errors returns the messages of the last run keyed by field, or nil when it
// passed.
func (v *Validator) Errors() map[string][]string { return v.errors }

func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }
func (v *Validator) Failed() bool    { return len(v.errors) > 0 }
func (v *Validator) Passed() bool    { return len(v.errors) == 0 }

// Reset clears the errors of the last run.
func (v *Validator) Reset() { v.errors = nil }

func (v *Validator) addError(field, msg string) {
	if v.errors == nil {
		v.errors = make(map[string][]string)
	}
	v.errors[field] = append(v.errors[field], msg)
}

// message returns the custom message for (field, rule) or def.
func (v *Validator) message(field, rule, def string) string {
	if m, ok := v.messages[field][rule]; ok {
		return m
	}
	return def
}

func quoteList(names []string) string {
	return `"` + strings.Join(names, `", "`) + `"`
}
