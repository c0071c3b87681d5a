package index

import (
	"regexp"
	"strings"
)

var (
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	htmlEntityRe = regexp.MustCompile(`&[a-zA-Z]+;|&#\d+;`)
	soundTagRe   = regexp.MustCompile(`\[sound:[^\]]*\]`)
)

// analyze lower-cases text, drops markup and stop words, and returns the
// unigrams followed by the bigrams of the remaining tokens.
func analyze(text string) []string {
	text = soundTagRe.ReplaceAllString(text, " ")
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = htmlEntityRe.ReplaceAllString(text, " ")

	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, t := range raw {
		if !isStopWord(t) {
			tokens = append(tokens, t)
		}
	}

	terms := make([]string, 0, 2*len(tokens))
	terms = append(terms, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		terms = append(terms, tokens[i]+" "+tokens[i+1])
	}
	return terms
}
