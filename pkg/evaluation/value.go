package evaluation

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates the Value union.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindList
)

// Value is a single normalized context attribute: a string, a number, a bool,
// or a list of strings. Anything else is dropped at the normalization edge so
// the operator library only ever sees these four shapes.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []string
}

// StringValue wraps a string attribute.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue wraps a numeric attribute.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// BoolValue wraps a boolean attribute.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue wraps a list-of-strings attribute.
func ListValue(items ...string) Value { return Value{kind: KindList, list: items} }

// Kind reports which arm of the union holds the value.
func (v Value) Kind() Kind { return v.kind }

// String coerces the value to its canonical string form. Numbers render
// without a trailing ".0" (42, not 42.0); lists join on commas.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return strings.Join(v.list, ",")
	}
	return ""
}

// Float coerces the value to a float64 for the numeric operators. The second
// return is false when the value has no numeric reading.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// List returns the list arm, or nil for scalar values.
func (v Value) List() []string {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// MarshalJSON renders the underlying value, not the union wrapper, so logged
// context snapshots read like the caller's original payload.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return json.Marshal([]string{})
		}
		return json.Marshal(v.list)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts any JSON scalar or string array; shapes outside the
// union decode to the zero Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, ok := valueFromAny(raw)
	if ok {
		*v = val
	} else {
		*v = Value{}
	}
	return nil
}

// Context is the normalized attribute bag describing the subject of a
// decision. Key access is case-sensitive.
type Context map[string]Value

// NormalizeContext converts an arbitrary decoded JSON object into a Context.
// If the raw bag carries a "user" sub-object, its fields are flattened into
// the top level and the "user" key removed; on a key collision the user
// field wins. Attributes that do not fit the Value union are dropped.
func NormalizeContext(raw map[string]any) Context {
	ctx := make(Context, len(raw))

	var user map[string]any
	for k, rv := range raw {
		if k == "user" {
			if m, ok := rv.(map[string]any); ok {
				user = m
				continue
			}
		}
		if v, ok := valueFromAny(rv); ok {
			ctx[k] = v
		}
	}
	for k, rv := range user {
		if v, ok := valueFromAny(rv); ok {
			ctx[k] = v
		}
	}

	return ctx
}

// valueFromAny maps decoded JSON (and the common native Go scalars) onto the
// Value union.
func valueFromAny(raw any) (Value, bool) {
	switch t := raw.(type) {
	case string:
		return StringValue(t), true
	case float64:
		return NumberValue(t), true
	case float32:
		return NumberValue(float64(t)), true
	case int:
		return NumberValue(float64(t)), true
	case int64:
		return NumberValue(float64(t)), true
	case bool:
		return BoolValue(t), true
	case []string:
		if len(t) == 0 {
			return ListValue(), true
		}
		return ListValue(t...), true
	case []any:
		// Empty lists decode to the same shape ListValue() builds, so a
		// marshal/unmarshal cycle is value-stable.
		if len(t) == 0 {
			return ListValue(), true
		}
		items := make([]string, 0, len(t))
		for _, el := range t {
			v, ok := valueFromAny(el)
			if !ok {
				return Value{}, false
			}
			items = append(items, v.String())
		}
		return ListValue(items...), true
	}
	return Value{}, false
}

// subjectKeys is the resolution order for the subject identifier.
var subjectKeys = [...]string{"user_id", "id", "anonymous_id"}

// ResolveSubject picks the identifier used for bucketing: user_id, then id,
// then anonymous_id, then a fresh random value. The second return reports
// whether the identifier was generated; generated subjects make the decision
// non-sticky by design.
func (c Context) ResolveSubject() (string, bool) {
	for _, k := range subjectKeys {
		if v, ok := c[k]; ok {
			if s := v.String(); s != "" {
				return s, false
			}
		}
	}
	return uuid.NewString(), true
}
