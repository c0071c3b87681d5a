// Package rag builds the grounded prompts for gap analysis and card generation.
package rag

import (
	"fmt"
	"strings"

	"ankiforge/internal/card"
)

// Sufficient is the gap-analysis answer meaning the topic is already narrow
// enough to generate from directly.
const Sufficient = "SUFFICIENT"

const noExisting = "(none)"

const gapPrompt = `You are a study planner helping a learner extend their flashcard collection.

TOPIC: %s

EXISTING CARDS (the learner already knows these):
'''
%s
'''

If the topic is already specific and narrow, output only the word SUFFICIENT.
Otherwise write a study guide of about 300 words that covers the concepts of the topic
that are MISSING from the existing cards. Do not restate concepts the existing cards already cover.`

const generationPrompt = `You are an expert Anki card generator.

TASK: Generate %d NEW flashcards based on the SOURCE MATERIAL below.

CRITICAL RULE: DO NOT DUPLICATE EXISTING KNOWLEDGE.
- If a concept is present in "EXISTING CARDS", ignore it completely.
- Find a different angle or a harder question about the same topic instead.

SOURCE MATERIAL:
'''
%s
'''

EXISTING CARDS (DO NOT REPEAT THESE CONCEPTS):
'''
%s
'''

OUTPUT FORMAT (one card per line):
%s

INSTRUCTIONS:
1. Exactly %d pipes "|" per line.
2. No markdown, no numbering, no header line.
3. %s`

// GapAnalysisPrompt asks the model which concepts of topic are missing from
// the existing cards.
func GapAnalysisPrompt(topic string, existing []string) string {
	return fmt.Sprintf(gapPrompt, topic, formatExisting(existing))
}

// IsSufficient reports whether a gap-analysis answer declined to expand the
// topic. Only an answer consisting of the bare token counts; a guide that
// merely uses the word is kept.
func IsSufficient(answer string) bool {
	return strings.EqualFold(strings.Trim(strings.TrimSpace(answer), ".!'\"*`_ \t\n"), Sufficient)
}

// FallbackGuide is the source material used when gap analysis fails.
func FallbackGuide(topic string) string {
	return fmt.Sprintf("Focus on advanced concepts of %s.", topic)
}

// GenerationInput carries everything the generation prompt is built from.
type GenerationInput struct {
	Source   string
	Existing []string
	Count    int
	Fields   card.FieldTypeMap
}

// GenerationPrompt builds the card generation prompt.
func GenerationPrompt(in GenerationInput) string {
	structure := make([]string, len(in.Fields))
	instructions := make([]string, len(in.Fields))
	for i, f := range in.Fields {
		structure[i] = "[" + f.Name + "]"
		instructions[i] = FieldInstruction(f)
	}
	return fmt.Sprintf(generationPrompt,
		in.Count,
		in.Source,
		formatExisting(in.Existing),
		strings.Join(structure, "|"),
		max(len(in.Fields)-1, 0),
		strings.Join(instructions, " "),
	)
}

// FieldInstruction tells the model what to put in one field.
func FieldInstruction(f card.FieldSpec) string {
	switch f.Type {
	case card.Image:
		return fmt.Sprintf("Field '%s': 2-3 word image search query. NO URLs.", f.Name)
	case card.Audio:
		return fmt.Sprintf("Field '%s': text to be spoken aloud.", f.Name)
	case card.Code:
		return fmt.Sprintf("Field '%s': code wrapped in <pre><code>...</code></pre>.", f.Name)
	case card.Skip:
		return fmt.Sprintf("Field '%s': LEAVE EMPTY.", f.Name)
	case card.Text:
		return fmt.Sprintf("Field '%s': plain text.", f.Name)
	default:
		panic(fmt.Sprintf("rag: no instruction for field type %s", f.Type))
	}
}

func formatExisting(existing []string) string {
	if len(existing) == 0 {
		return noExisting
	}
	var b strings.Builder
	for _, e := range existing {
		b.WriteString("- ")
		b.WriteString(strings.ReplaceAll(e, "\n", " "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
