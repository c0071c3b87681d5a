package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"ankiforge/internal/card"
)

const defaultFetchWorkers = 4

// ProgressFunc is called after each deck finishes loading.
type ProgressFunc func(deck string, done, total int)

// deckWork is a deck waiting to be fetched, tagged with its position so the
// merged corpus keeps the caller's deck order.
type deckWork struct {
	pos  int
	deck string
}

// deckBatch is the snapshots fetched for one deck.
type deckBatch struct {
	pos   int
	deck  string
	snaps []card.Snapshot
	err   error
}

// fetchDecks loads every deck through src with numWorkers concurrent
// fetchers and returns the per-deck snapshots in input order. The first
// failing deck, by input order, is reported.
func fetchDecks(
	ctx context.Context,
	src SnapshotSource,
	decks []string,
	numWorkers int,
	onProgress ProgressFunc,
) ([][]card.Snapshot, error) {
	if numWorkers <= 0 {
		numWorkers = defaultFetchWorkers
	}
	if numWorkers > len(decks) {
		numWorkers = len(decks)
	}

	// Stage 1: Feed
	workCh := make(chan deckWork)
	go func() {
		defer close(workCh)
		for i, d := range decks {
			select {
			case workCh <- deckWork{pos: i, deck: d}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 2: Fetch (N workers)
	batchCh := make(chan deckBatch, numWorkers)
	var fetchWg sync.WaitGroup
	for range numWorkers {
		fetchWg.Add(1)
		go func() {
			defer fetchWg.Done()
			for w := range workCh {
				snaps, err := src.Snapshots(ctx, w.deck)
				batchCh <- deckBatch{pos: w.pos, deck: w.deck, snaps: snaps, err: err}
			}
		}()
	}
	go func() {
		fetchWg.Wait()
		close(batchCh)
	}()

	// Stage 3: Collect (1 worker)
	results := make([][]card.Snapshot, len(decks))
	errs := make([]error, len(decks))
	var done atomic.Int64
	for b := range batchCh {
		results[b.pos] = b.snaps
		errs[b.pos] = b.err
		n := int(done.Add(1))
		if onProgress != nil {
			onProgress(b.deck, n, len(decks))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("snapshot deck %q: %w", decks[i], err)
		}
	}
	return results, nil
}
