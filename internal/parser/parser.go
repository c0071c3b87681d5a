// Package parser turns pipe-delimited model output into card records.
package parser

import (
	"regexp"
	"strings"

	"ankiforge/internal/card"
)

// Separator delimits fields on one generated line.
const Separator = "|"

var (
	// ```markdown, ```text, ```csv, bare ``` and similar fences.
	fencePattern = regexp.MustCompile("```[A-Za-z0-9_+-]*")
	// Leading list markers: "1.", "2)", "-", "*", "•". A digit run only counts
	// when closed by "." or ")", so content such as "3NF" keeps its digits.
	markerPattern = regexp.MustCompile(`^(?:(\d+[.)])|[-*•]+)(\s*)`)
)

// Parse converts raw generated text into records whose fields are assigned
// positionally to fields. Lines that cannot be reconciled to exactly
// len(fields) segments are dropped.
func Parse(raw string, fields []string) []card.Record {
	expected := len(fields)
	if expected == 0 {
		return nil
	}

	clean := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))

	var records []card.Record
	for _, line := range strings.Split(clean, "\n") {
		parts, ok := splitLine(line, expected)
		if !ok {
			continue
		}
		records = append(records, card.NewRecord(fields, parts))
	}
	return records
}

func splitLine(line string, expected int) ([]string, bool) {
	line = stripMarker(strings.TrimSpace(line))
	if line == "" || !strings.Contains(line, Separator) {
		return nil, false
	}

	raw := strings.Split(line, Separator)
	parts := make([]string, len(raw))
	for i, p := range raw {
		parts[i] = strings.TrimSpace(p)
	}

	// Trailing delimiter.
	if len(parts) == expected+1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	// Silently dropped last field.
	if len(parts) == expected-1 {
		parts = append(parts, "")
	}
	if len(parts) != expected {
		return nil, false
	}
	return parts, true
}

// stripMarker removes one leading list marker. "1.5" is a decimal, not item 1.
func stripMarker(line string) string {
	m := markerPattern.FindStringSubmatchIndex(line)
	if m == nil {
		return line
	}
	numbered, spaced := m[2] >= 0, m[5] > m[4]
	if numbered && !spaced && m[1] < len(line) && line[m[1]] >= '0' && line[m[1]] <= '9' {
		return line
	}
	return strings.TrimSpace(line[m[1]:])
}
