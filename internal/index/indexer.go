package index

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"ankiforge/internal/card"
	"ankiforge/internal/logger"
	"ankiforge/internal/store"
)

// Artifact names. All three must be present for the index to be usable.
const (
	ArtifactVocabulary = "vocabulary"
	ArtifactMatrix     = "matrix"
	ArtifactSnapshots  = "snapshots"
)

const (
	metaIndexedAt = "indexed_at"
	metaDocuments = "documents"
)

const (
	DefaultLimit    = 30
	DefaultMinScore = 0.1
)

// ErrNotBuilt is returned by Search when no index has been persisted yet.
var ErrNotBuilt = errors.New("index not built")

// Config holds the query policy knobs.
type Config struct {
	// Limit caps the number of results when the caller passes limit <= 0.
	Limit int
	// MinScore filters out results scoring at or below it.
	MinScore float64
}

// Indexer builds and queries the TF-IDF index over note snapshots.
type Indexer struct {
	store  store.Store
	config Config
}

// Match is a scored search hit.
type Match struct {
	Snapshot card.Snapshot
	Score    float64
}

// New creates an Indexer persisting through st.
func New(st store.Store, cfg Config) *Indexer {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MinScore < 0 {
		cfg.MinScore = 0
	}
	return &Indexer{store: st, config: cfg}
}

// Build fully rebuilds the index from snapshots and persists it. An empty
// input is a no-op that leaves any existing index untouched.
func (idx *Indexer) Build(ctx context.Context, snapshots []card.Snapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	docs := make([]string, len(snapshots))
	for i, s := range snapshots {
		docs[i] = s.Content
	}
	vocab, matrix := fit(docs)

	var artifacts []store.Artifact
	for _, a := range []struct {
		name string
		v    any
	}{
		{ArtifactVocabulary, vocab},
		{ArtifactMatrix, matrix},
		{ArtifactSnapshots, snapshots},
	} {
		data, err := encode(a.v)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", a.name, err)
		}
		artifacts = append(artifacts, store.Artifact{Name: a.name, Data: data})
	}

	if err := idx.store.SaveArtifacts(ctx, artifacts); err != nil {
		return 0, fmt.Errorf("save index: %w", err)
	}
	if err := idx.store.SetMeta(ctx, metaIndexedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, fmt.Errorf("set meta: %w", err)
	}
	if err := idx.store.SetMeta(ctx, metaDocuments, strconv.Itoa(len(snapshots))); err != nil {
		return 0, fmt.Errorf("set meta: %w", err)
	}

	logger.FromContext(ctx).Debug("Index rebuilt", "documents", len(snapshots), "terms", len(vocab.Terms))
	return len(snapshots), nil
}

// Info describes the persisted index. Zero values mean it was never built.
type Info struct {
	IndexedAt time.Time
	Documents int
}

// Info reads the metadata recorded by the last Build.
func (idx *Indexer) Info(ctx context.Context) (Info, error) {
	var info Info
	at, err := idx.store.GetMeta(ctx, metaIndexedAt)
	if err != nil {
		return info, err
	}
	if at != "" {
		if info.IndexedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return info, fmt.Errorf("parse %s: %w", metaIndexedAt, err)
		}
	}
	docs, err := idx.store.GetMeta(ctx, metaDocuments)
	if err != nil {
		return info, err
	}
	if docs != "" {
		if info.Documents, err = strconv.Atoi(docs); err != nil {
			return info, fmt.Errorf("parse %s: %w", metaDocuments, err)
		}
	}
	return info, nil
}

// Clear removes the persisted index.
func (idx *Indexer) Clear(ctx context.Context) error {
	return idx.store.SaveArtifacts(ctx, nil)
}

// Query returns the content of the most similar snapshots. A missing or
// unreadable index yields an empty result.
func (idx *Indexer) Query(ctx context.Context, text string, limit int) []string {
	matches, err := idx.Search(ctx, text, limit)
	if err != nil {
		if !errors.Is(err, ErrNotBuilt) {
			logger.FromContext(ctx).Warn("Index unreadable, continuing without context", "error", err)
		}
		return []string{}
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Snapshot.Content
	}
	return out
}

// Search is Query with scores and explicit errors.
func (idx *Indexer) Search(ctx context.Context, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = idx.config.Limit
	}

	var (
		vocab     Vocabulary
		matrix    Matrix
		snapshots []card.Snapshot
	)
	for _, a := range []struct {
		name string
		v    any
	}{
		{ArtifactVocabulary, &vocab},
		{ArtifactMatrix, &matrix},
		{ArtifactSnapshots, &snapshots},
	} {
		data, err := idx.store.LoadArtifact(ctx, a.name)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotBuilt
		}
		if err != nil {
			return nil, err
		}
		if err := decode(data, a.v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", a.name, err)
		}
	}
	if len(matrix.Rows) != len(snapshots) {
		return nil, fmt.Errorf("index artifacts disagree: %d rows, %d snapshots", len(matrix.Rows), len(snapshots))
	}
	if err := vocab.check(&matrix); err != nil {
		return nil, fmt.Errorf("index artifacts disagree: %w", err)
	}

	q := vocab.transform(text)
	var matches []Match
	for i, row := range matrix.Rows {
		score := cosine(q, row)
		if score <= idx.config.MinScore {
			continue
		}
		matches = append(matches, Match{Snapshot: snapshots[i], Score: score})
	}

	// Stable sort keeps corpus order among equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
