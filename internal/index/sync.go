package index

import (
	"context"

	"ankiforge/internal/card"
	"ankiforge/internal/logger"
)

// SnapshotSource yields the flattened notes of one deck.
type SnapshotSource interface {
	Snapshots(ctx context.Context, deck string) ([]card.Snapshot, error)
}

// Stats reports sync results.
type Stats struct {
	Decks      int
	Notes      int
	Duplicates int
	Indexed    int
}

// Sync snapshots every deck from src and rebuilds the index from the union.
// Decks that fail to load abort the sync so a partial corpus never replaces
// a complete one. onProgress may be nil.
func (idx *Indexer) Sync(ctx context.Context, src SnapshotSource, decks []string, onProgress ProgressFunc) (*Stats, error) {
	log := logger.FromContext(ctx)
	stats := &Stats{Decks: len(decks)}

	perDeck, err := fetchDecks(ctx, src, decks, defaultFetchWorkers, onProgress)
	if err != nil {
		return stats, err
	}

	seen := make(map[string]bool)
	var corpus []card.Snapshot
	for i, snaps := range perDeck {
		log.Info("Fetched deck", "deck", decks[i], "notes", len(snaps))
		for _, s := range snaps {
			stats.Notes++
			if seen[s.ID] {
				stats.Duplicates++
				continue
			}
			seen[s.ID] = true
			corpus = append(corpus, s)
		}
	}

	if len(corpus) == 0 {
		log.Warn("No notes found, existing index left untouched", "decks", decks)
		return stats, nil
	}

	n, err := idx.Build(ctx, corpus)
	if err != nil {
		return stats, err
	}
	stats.Indexed = n
	return stats, nil
}
