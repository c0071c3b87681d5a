package card

import (
	"fmt"
	"strings"
)

// ContentSeparator joins field values when flattening a note into a Snapshot.
const ContentSeparator = " | "

// Snapshot is the flattened text of one note as captured from the note store.
type Snapshot struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Deck    string `json:"deck"`
}

// FlattenFields joins field values in model order.
func FlattenFields(values []string) string {
	return strings.Join(values, ContentSeparator)
}

// Record is one parsed candidate card prior to media resolution.
type Record struct {
	Fields  map[string]string `json:"fields"`
	Include bool              `json:"include"`
}

// NewRecord assigns values positionally to names. len(values) must equal len(names).
func NewRecord(names, values []string) Record {
	fields := make(map[string]string, len(names))
	for i, name := range names {
		fields[name] = values[i]
	}
	return Record{Fields: fields, Include: true}
}

// Clone returns a deep copy so enrichment never mutates the parsed batch.
func (r Record) Clone() Record {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{Fields: fields, Include: r.Include}
}

// ImageRef renders an embeddable image reference for a stored media file.
func ImageRef(filename string) string {
	return fmt.Sprintf(`<img src="%s">`, filename)
}

// AudioRef renders an embeddable audio reference for a stored media file.
func AudioRef(filename string) string {
	return fmt.Sprintf("[sound:%s]", filename)
}
