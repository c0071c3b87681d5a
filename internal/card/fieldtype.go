package card

import (
	"fmt"
	"strings"
)

// FieldType is the semantic role of a note field. The set is closed.
type FieldType int

const (
	Text FieldType = iota
	Image
	Code
	Audio
	Skip
)

// AllFieldTypes lists every variant in declaration order.
var AllFieldTypes = []FieldType{Text, Image, Code, Audio, Skip}

func (t FieldType) String() string {
	switch t {
	case Text:
		return "Text"
	case Image:
		return "Image"
	case Code:
		return "Code"
	case Audio:
		return "Audio"
	case Skip:
		return "Skip"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// ParseFieldType accepts the variant names case-insensitively, plus "(skip)".
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), "()")) {
	case "text", "":
		return Text, nil
	case "image", "img":
		return Image, nil
	case "code":
		return Code, nil
	case "audio", "tts":
		return Audio, nil
	case "skip":
		return Skip, nil
	default:
		return Text, fmt.Errorf("unknown field type %q (want text, image, code, audio or skip)", s)
	}
}

func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(t.String())), nil
}

func (t *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// FieldSpec binds a note-model field to its type.
type FieldSpec struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// FieldTypeMap is ordered to match the note model's field list.
type FieldTypeMap []FieldSpec

// NewFieldTypeMap types every model field, defaulting to Text. Overrides naming
// a field the model does not have are rejected.
func NewFieldTypeMap(fields []string, overrides map[string]FieldType) (FieldTypeMap, error) {
	known := make(map[string]bool, len(fields))
	m := make(FieldTypeMap, 0, len(fields))
	for _, f := range fields {
		known[f] = true
		t, ok := overrides[f]
		if !ok {
			t = Text
		}
		m = append(m, FieldSpec{Name: f, Type: t})
	}
	for name := range overrides {
		if !known[name] {
			return nil, fmt.Errorf("field %q is not part of the note model (fields: %s)", name, strings.Join(fields, ", "))
		}
	}
	return m, nil
}

// ParseOverrides reads "Name=type" pairs as given on the command line.
func ParseOverrides(pairs []string) (map[string]FieldType, error) {
	out := make(map[string]FieldType, len(pairs))
	for _, p := range pairs {
		name, typ, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid field mapping %q, expected Name=type", p)
		}
		t, err := ParseFieldType(typ)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(name)] = t
	}
	return out, nil
}

// Names returns the field names in order.
func (m FieldTypeMap) Names() []string {
	names := make([]string, len(m))
	for i, f := range m {
		names[i] = f.Name
	}
	return names
}

func (m FieldTypeMap) TypeOf(name string) FieldType {
	for _, f := range m {
		if f.Name == name {
			return f.Type
		}
	}
	return Text
}
