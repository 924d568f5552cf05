package logrecord

import (
	"encoding/json"
	"strings"

	"github.com/juju/errors"
	"github.com/valyala/fastjson"
)

// Identifiers is the decoded form of the polymorphic identifierId field:
// a JSON string or a list of strings. Blank entries are dropped; an empty
// value means the field was absent or unusable.
type Identifiers struct {
	values []string
	list   bool
}

// NewIdentifiers builds a list-shaped value from ids, dropping blank entries.
func NewIdentifiers(ids ...string) Identifiers {
	out := Identifiers{list: true}
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out.values = append(out.values, id)
		}
	}
	return out
}

// SingleIdentifier builds a string-shaped value.
func SingleIdentifier(id string) Identifiers {
	if strings.TrimSpace(id) == "" {
		return Identifiers{}
	}
	return Identifiers{values: []string{id}}
}

// Canonical is the comparison form of an identifier: trimmed and lowercased.
func Canonical(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

// Equal compares two identifiers in canonical form.
func Equal(a, b string) bool { return Canonical(a) == Canonical(b) }

func (ids Identifiers) Empty() bool { return len(ids.values) == 0 }

func (ids Identifiers) Len() int { return len(ids.values) }

// Values returns a copy of the identifiers in wire order.
func (ids Identifiers) Values() []string { return append([]string(nil), ids.values...) }

// First returns the privileged first identifier, "" when empty.
func (ids Identifiers) First() string {
	if len(ids.values) == 0 {
		return ""
	}
	return ids.values[0]
}

// Contains reports whether id matches any entry in canonical form.
func (ids Identifiers) Contains(id string) bool {
	c := Canonical(id)
	for _, v := range ids.values {
		if Canonical(v) == c {
			return true
		}
	}
	return false
}

// Intersects reports whether any entry of ids matches any entry of other.
func (ids Identifiers) Intersects(other Identifiers) bool {
	for _, v := range ids.values {
		if other.Contains(v) {
			return true
		}
	}
	return false
}

// MarshalJSON keeps the wire shape the value was decoded from.
func (ids Identifiers) MarshalJSON() ([]byte, error) {
	if !ids.list && len(ids.values) == 1 {
		return json.Marshal(ids.values[0])
	}
	if ids.values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(ids.values)
}

func (ids *Identifiers) UnmarshalJSON(b []byte) error {
	v, err := fastjson.ParseBytes(b)
	if err != nil {
		return errors.Annotate(ErrDecode, err.Error())
	}
	parsed, err := identifiersFromValue(v)
	if err != nil {
		return err
	}
	*ids = parsed
	return nil
}

func identifiersFromValue(v *fastjson.Value) (Identifiers, error) {
	switch v.Type() {
	case fastjson.TypeNull:
		return Identifiers{}, nil
	case fastjson.TypeString:
		return SingleIdentifier(string(v.GetStringBytes())), nil
	case fastjson.TypeArray:
		items, _ := v.Array()
		ids := Identifiers{list: true}
		for _, item := range items {
			s := scalarText(item)
			if strings.TrimSpace(s) != "" {
				ids.values = append(ids.values, s)
			}
		}
		return ids, nil
	case fastjson.TypeNumber:
		return SingleIdentifier(v.String()), nil
	default:
		return Identifiers{}, errors.Annotatef(ErrDecode, "identifierId of type %s", v.Type())
	}
}

// scalarText returns a JSON string's contents or the JSON text of anything else.
func scalarText(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}
