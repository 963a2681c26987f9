package validator

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Skryldev/useradmin/db"
)

// call is one rule evaluation.
type call struct {
	v     *Validator
	rule  string
	field string
	value any
	data  map[string]any
}

// fail returns the custom message for the call's field and rule, or def.
func (c call) fail(def string) (string, error) {
	return c.v.message(c.field, c.rule, def), nil
}

// ruleFunc returns "" when the value passes, otherwise the message to record.
// A non-nil error is a configuration or storage failure.
type ruleFunc func(ctx context.Context, c call) (string, error)

type ruleBuilder func(param any) (ruleFunc, error)

var registry = map[string]ruleBuilder{
	"required": buildRequired,
	"min":      buildMin,
	"max":      buildMax,
	"matches":  buildMatches,
	"email":    buildEmail,
	"in":       buildIn,
	"alpha":    buildAlpha,
	"alphanum": buildAlphanum,
	"url":      buildURL,
	"unique":   buildUnique,
}

// Rules returns the names of every available rule, sorted.
func Rules() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ─────────────────────────────────────────────────────────────────────────────
// Parameter coercion
// ─────────────────────────────────────────────────────────────────────────────

func boolParam(rule string, p any) (bool, error) {
	b, ok := p.(bool)
	if !ok {
		return false, db.Misconfigured("%q rule must have a boolean as value", rule)
	}
	return b, nil
}

func intParam(rule string, p any) (int, error) {
	rv := reflect.ValueOf(p)
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = int64(rv.Uint())
	default:
		return 0, db.Misconfigured("%q rule must have a positive integer as value", rule)
	}
	if n < 0 {
		return 0, db.Misconfigured("%q rule must have a positive integer as value", rule)
	}
	return int(n), nil
}

func stringParam(rule string, p any) (string, error) {
	s, ok := p.(string)
	if !ok {
		return "", db.Misconfigured("%q rule must have a string as value", rule)
	}
	return s, nil
}

func listParam(rule string, p any) ([]string, error) {
	switch l := p.(type) {
	case []string:
		out := make([]string, len(l))
		copy(out, l)
		return out, nil
	case []any:
		out := make([]string, len(l))
		for i, e := range l {
			out[i] = text(e)
		}
		return out, nil
	}
	return nil, db.Misconfigured("%q rule must have a list as value", rule)
}

// text renders a value for textual comparison.
func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

// ─────────────────────────────────────────────────────────────────────────────
// required
// ─────────────────────────────────────────────────────────────────────────────

func buildRequired(p any) (ruleFunc, error) {
	on, err := boolParam("required", p)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, c call) (string, error) {
		if on && isEmpty(c.value) {
			return c.fail(c.field + " is required.")
		}
		return "", nil
	}, nil
}

// isEmpty treats nil, blank strings, false, numeric zero and empty
// collections as not provided. The string "0" is provided.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return strings.TrimSpace(rv.String()) == ""
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// min / max
// ─────────────────────────────────────────────────────────────────────────────

const notStringLength = "Value is not a string. Cannot check string length."

func buildMin(p any) (ruleFunc, error) {
	n, err := intParam("min", p)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, c call) (string, error) {
		s, ok := c.value.(string)
		if !ok {
			return notStringLength, nil
		}
		if utf8.RuneCountInString(strings.TrimSpace(s)) < n {
			return c.fail(fmt.Sprintf("%s must be at least %d characters.", c.field, n))
		}
		return "", nil
	}, nil
}

func buildMax(p any) (ruleFunc, error) {
	n, err := intParam("max", p)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, c call) (string, error) {
		s, ok := c.value.(string)
		if !ok {
			return notStringLength, nil
		}
		if utf8.RuneCountInString(strings.TrimSpace(s)) > n {
			return c.fail(fmt.Sprintf("%s must be under %d characters.", c.field, n))
		}
		return "", nil
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// matches
// ─────────────────────────────────────────────────────────────────────────────

func buildMatches(p any) (ruleFunc, error) {
	other, err := stringParam("matches", p)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, c call) (string, error) {
		value, match := c.value, c.data[other]
		if s, ok := value.(string); ok {
			value = strings.TrimSpace(s)
			if m, ok := match.(string); ok {
				match = strings.TrimSpace(m)
			}
		}
		if !reflect.DeepEqual(value, match) {
			return c.fail(fmt.Sprintf("%s must match %s.", c.field, other))
		}
		return "", nil
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// email
// ─────────────────────────────────────────────────────────────────────────────

func buildEmail(p any) (ruleFunc, error) {
	if _, err := boolParam("email", p); err != nil {
		return nil, err
	}
	return func(_ context.Context, c call) (string, error) {
		s, ok := c.value.(string)
		if !ok {
			return "Value is not a string. Cannot check if it is a valid email address.", nil
		}
		if !validEmail(strings.TrimSpace(s)) {
			return c.fail(c.field + " is not a valid email address.")
		}
		return "", nil
	}, nil
}

// validEmail accepts a bare addr-spec whose domain has at least one dot.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.HasSuffix(domain, ".")
}

// ─────────────────────────────────────────────────────────────────────────────
// in
// ─────────────────────────────────────────────────────────────────────────────

func buildIn(p any) (ruleFunc, error) {
	allowed, err := listParam("in", p)
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return nil, db.Misconfigured("empty set of values to check against")
	}
	return func(_ context.Context, c call) (string, error) {
		value := strings.TrimSpace(text(c.value))
		for _, a := range allowed {
			if a == value {
				return "", nil
			}
		}
		return c.fail(c.field + " does not match any of the accepted values.")
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// alpha / alphanum
// ─────────────────────────────────────────────────────────────────────────────

func buildAlpha(p any) (ruleFunc, error) {
	if _, err := boolParam("alpha", p); err != nil {
		return nil, err
	}
	return func(_ context.Context, c call) (string, error) {
		s, ok := c.value.(string)
		if !ok {
			return "Value is not a string. Cannot check if it contains only alphabetic characters.", nil
		}
		if !onlyASCII(strings.TrimSpace(s), false) {
			return c.fail(c.field + " does not contain only alphabetic characters.")
		}
		return "", nil
	}, nil
}

func buildAlphanum(p any) (ruleFunc, error) {
	if _, err := boolParam("alphanum", p); err != nil {
		return nil, err
	}
	return func(_ context.Context, c call) (string, error) {
		s, ok := c.value.(string)
		if !ok {
			return "Value is not a string. Cannot check if it contains only alphanumeric characters.", nil
		}
		if !onlyASCII(strings.TrimSpace(s), true) {
			return c.fail(c.field + " does not contain only alphanumeric characters.")
		}
		return "", nil
	}, nil
}

// onlyASCII reports whether s is non-empty and made of ASCII letters, plus
// digits when digits is set.
func onlyASCII(s string, digits bool) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z':
		case digits && '0' <= b && b <= '9':
		default:
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// url
// ─────────────────────────────────────────────────────────────────────────────

const (
	flagScheme = "schemeRequired"
	flagHost   = "hostRequired"
	flagPath   = "pathRequired"
	flagQuery  = "queryRequired"
)

func buildURL(p any) (ruleFunc, error) {
	flags, err := listParam("url", p)
	if err != nil {
		return nil, err
	}
	var needPath, needQuery bool
	for _, f := range flags {
		switch f {
		case flagScheme, flagHost:
			// always enforced
		case flagPath:
			needPath = true
		case flagQuery:
			needQuery = true
		default:
			return nil, db.Misconfigured("unknown url flag %q", f)
		}
	}
	return func(_ context.Context, c call) (string, error) {
		s, ok := c.value.(string)
		if !ok {
			return "Value is not a string. Cannot check if it is a valid url.", nil
		}
		if !validURL(strings.TrimSpace(s), needPath, needQuery) {
			return c.fail(c.field + " is not a valid url.")
		}
		return "", nil
	}, nil
}

func validURL(s string, needPath, needQuery bool) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if needPath && u.Path == "" {
		return false
	}
	if needQuery && u.RawQuery == "" {
		return false
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// unique
// ─────────────────────────────────────────────────────────────────────────────

// buildUnique checks that no row of the finder's table already holds the
// value. The finder's model name must equal the parameter and its table name
// must be the parameter plus "s"; anything else is a configuration error.
//
// The lookup predicate is built as SQL text, not bound. The value is trimmed
// and its single quotes doubled.
func buildUnique(p any) (ruleFunc, error) {
	modelName, err := stringParam("unique", p)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, c call) (string, error) {
		f := c.v.finder
		if f == nil {
			return "", db.Misconfigured("no data mapper set for unique rule on %q", c.field)
		}
		got, err := f.ModelName()
		if err != nil {
			return "", err
		}
		if got != modelName {
			return "", db.Misconfigured("model set in validator's mapper not matching model set in rule (validator: %q, rule: %q)", got, modelName)
		}
		tableName, err := f.TableName()
		if err != nil {
			return "", err
		}
		if want := modelName + "s"; tableName != want {
			return "", db.Misconfigured("table name set in validator's mapper not corresponding to model set in rule (validator: %q, table name from rule: %q)", tableName, want)
		}

		value := strings.TrimSpace(text(c.value))
		where := f.QuoteIdent(c.field) + " = " + db.QuoteLiteral(value)
		exists, err := f.Exists(ctx, where)
		if err != nil {
			return "", err
		}
		if exists {
			return c.fail(c.field + " already exists.")
		}
		return "", nil
	}, nil
}
