package index

import (
	"fmt"
	"math"
	"sort"
)

// Vocabulary maps terms to column indices and carries the fitted IDF weights.
type Vocabulary struct {
	Terms map[string]int
	IDF   []float64
	Docs  int
}

// Entry is one non-zero weight in a sparse row.
type Entry struct {
	Term   int
	Weight float64
}

// Vector is a sparse, L2-normalised row sorted by term index.
type Vector []Entry

// Matrix holds one row per indexed document, in corpus order.
type Matrix struct {
	Rows []Vector
}

// fit learns the vocabulary and IDF weights from docs and returns the
// document-term matrix.
func fit(docs []string) (*Vocabulary, *Matrix) {
	analyzed := make([][]string, len(docs))
	df := make(map[string]int)
	for i, d := range docs {
		terms := analyze(d)
		analyzed[i] = terms
		seen := make(map[string]bool, len(terms))
		for _, t := range terms {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	names := make([]string, 0, len(df))
	for t := range df {
		names = append(names, t)
	}
	sort.Strings(names)

	n := float64(len(docs))
	vocab := &Vocabulary{
		Terms: make(map[string]int, len(names)),
		IDF:   make([]float64, len(names)),
		Docs:  len(docs),
	}
	for i, t := range names {
		vocab.Terms[t] = i
		// Smoothed IDF: as if one extra document contained every term once.
		vocab.IDF[i] = math.Log((1+n)/(1+float64(df[t]))) + 1
	}

	m := &Matrix{Rows: make([]Vector, len(docs))}
	for i, terms := range analyzed {
		m.Rows[i] = vocab.weigh(terms)
	}
	return vocab, m
}

// check verifies that every term index in v and m addresses an IDF weight.
func (v *Vocabulary) check(m *Matrix) error {
	if len(v.IDF) != len(v.Terms) {
		return fmt.Errorf("%d terms, %d weights", len(v.Terms), len(v.IDF))
	}
	for t, idx := range v.Terms {
		if idx < 0 || idx >= len(v.IDF) {
			return fmt.Errorf("term %q has column %d of %d", t, idx, len(v.IDF))
		}
	}
	for i, row := range m.Rows {
		for _, e := range row {
			if e.Term < 0 || e.Term >= len(v.IDF) {
				return fmt.Errorf("row %d has column %d of %d", i, e.Term, len(v.IDF))
			}
		}
	}
	return nil
}

// transform projects text into the fitted space. Unknown terms are ignored.
func (v *Vocabulary) transform(text string) Vector {
	return v.weigh(analyze(text))
}

func (v *Vocabulary) weigh(terms []string) Vector {
	counts := make(map[int]float64)
	for _, t := range terms {
		if idx, ok := v.Terms[t]; ok {
			counts[idx]++
		}
	}
	vec := make(Vector, 0, len(counts))
	var norm float64
	for idx, tf := range counts {
		w := tf * v.IDF[idx]
		vec = append(vec, Entry{Term: idx, Weight: w})
		norm += w * w
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i].Weight *= inv
		}
	}
	sort.Slice(vec, func(i, j int) bool { return vec[i].Term < vec[j].Term })
	return vec
}

// cosine is the dot product of two L2-normalised sparse vectors.
func cosine(a, b Vector) float64 {
	var dot float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Term == b[j].Term:
			dot += a[i].Weight * b[j].Weight
			i++
			j++
		case a[i].Term < b[j].Term:
			i++
		default:
			j++
		}
	}
	return dot
}
