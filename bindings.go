package dbrest

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/dbrest/internal/wire"
)

// QueryParam is one serialized query-string parameter.
type QueryParam = wire.Param

// Binding is a value substituted for a named placeholder of a plan. Type is
// an optional datatype such as "integer"; Lang an optional language tag.
// Both together are only accepted when Type is "string".
//
// Bindings built with BindTyped, BindLang or BindingsFromMap remember that
// the annotation was given, so an empty type still renders as "name:".
type Binding struct {
	Name  string
	Value any
	Type  string
	Lang  string

	typed  bool
	tagged bool
}

// Bindings are encoded in slice order.
type Bindings []Binding

// Bind binds a bare value.
func Bind(name string, value any) Binding {
	return Binding{Name: name, Value: value}
}

// BindTyped binds a value with a datatype.
func BindTyped(name, typ string, value any) Binding {
	return Binding{Name: name, Value: value, Type: typ, typed: true}
}

// BindLang binds a string value with a language tag.
func BindLang(name, lang string, value any) Binding {
	return Binding{Name: name, Value: value, Lang: lang, tagged: true}
}

// BindingsFromMap converts a loosely typed mapping into Bindings, in sorted
// key order. A value that is a map holding a "value" key is read as
// {value, type, lang}; anything else is bound as is.
func BindingsFromMap(m map[string]any) (Bindings, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make(Bindings, 0, len(names))
	for _, name := range names {
		raw := m[name]
		annotated, ok := raw.(map[string]any)
		if !ok {
			out = append(out, Bind(name, raw))
			continue
		}
		value, ok := annotated["value"]
		if !ok {
			out = append(out, Bind(name, raw))
			continue
		}

		b := Binding{Name: name, Value: value}
		if t, present := annotated["type"]; present && t != nil {
			s, ok := t.(string)
			if !ok {
				return nil, &InvalidBindingError{Name: name, Reason: fmt.Sprintf("type must be a string, got %T", t)}
			}
			b.Type, b.typed = s, true
		}
		if l, present := annotated["lang"]; present && l != nil {
			s, ok := l.(string)
			if !ok {
				return nil, &InvalidBindingError{Name: name, Reason: fmt.Sprintf("lang must be a string, got %T", l)}
			}
			b.Lang, b.tagged = s, true
		}
		out = append(out, b)
	}
	return out, nil
}

// WireName returns the parameter name sent after "bind:": name@lang when a
// language tag is present, name:type when only a type is, name otherwise.
func (b Binding) WireName() (string, error) {
	if b.Name == "" {
		return "", &InvalidBindingError{Reason: "empty name"}
	}
	if strings.Contains(b.Type, ":") {
		return "", &InvalidBindingError{Name: b.Name, Reason: fmt.Sprintf("type %q contains a colon", b.Type)}
	}
	hasType := b.typed || b.Type != ""
	hasLang := b.tagged || b.Lang != ""
	if hasType && hasLang && b.Type != "string" {
		return "", &IncompatibleBindingError{Name: b.Name, Type: b.Type, Lang: b.Lang}
	}

	switch {
	case hasLang:
		return b.Name + "@" + b.Lang, nil
	case hasType:
		return b.Name + ":" + b.Type, nil
	}
	return b.Name, nil
}

// EncodeBindings renders bindings as escaped bind:<wireName>=<value>
// parameters, stopping at the first invalid binding. A nil value is sent
// as null.
func EncodeBindings(bindings Bindings) ([]QueryParam, error) {
	var q wire.Query
	for _, b := range bindings {
		name, err := b.WireName()
		if err != nil {
			return nil, err
		}
		q.Add("bind:"+name, formatBindingValue(b.Value))
	}
	return q.Params(), nil
}

func formatBindingValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return formatNumber(t, 64)
	case float32:
		return formatNumber(float64(t), 32)
	case time.Time:
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

// formatNumber prints a float the way a server parsing xs:integer or
// xs:double expects: plain digits below 1e21, exponent form beyond it and
// for magnitudes under 1e-6.
func formatNumber(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if abs := math.Abs(f); abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		s := strconv.FormatFloat(f, 'e', -1, bitSize)
		s = strings.Replace(s, "e+0", "e+", 1)
		return strings.Replace(s, "e-0", "e-", 1)
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}
