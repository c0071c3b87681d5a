package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"ankiforge/internal/backoff"
	"ankiforge/internal/logger"
)

const (
	// DefaultSufficient is how many candidates stop the search early.
	DefaultSufficient = 2
	defaultCacheSize  = 256
)

// Backend pairs a Searcher with the retry policy it runs under.
type Backend struct {
	Searcher Searcher
	Policy   backoff.Policy
}

type guardedBackend struct {
	Backend
	breaker *gobreaker.CircuitBreaker
}

// MultiSearcher consults backends in order and merges their candidates.
// A backend is only consulted while fewer than Sufficient candidates are known.
type MultiSearcher struct {
	backends   []guardedBackend
	sufficient int
	cache      *lru.Cache[string, []string]
}

func NewMultiSearcher(sufficient int, backends ...Backend) (*MultiSearcher, error) {
	if sufficient <= 0 {
		sufficient = DefaultSufficient
	}
	cache, err := lru.New[string, []string](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}

	guarded := make([]guardedBackend, 0, len(backends))
	for _, b := range backends {
		guarded = append(guarded, guardedBackend{Backend: b, breaker: newBreaker(b.Searcher.Name())})
	}
	return &MultiSearcher{backends: guarded, sufficient: sufficient, cache: cache}, nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.FromContext(context.Background()).Warn("Search backend breaker changed state",
				"backend", name, "from", from.String(), "to", to.String())
		},
	})
}

// SearchImages returns de-duplicated candidate URLs in backend order. Backend
// failures are logged and never returned.
func (m *MultiSearcher) SearchImages(ctx context.Context, query string) []string {
	log := logger.FromContext(ctx)
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return []string{}
	}
	if cached, ok := m.cache.Get(key); ok {
		return append([]string(nil), cached...)
	}

	seen := make(map[string]bool)
	candidates := make([]string, 0, m.sufficient)
	for i, b := range m.backends {
		if i > 0 && len(candidates) >= m.sufficient {
			break
		}
		urls, err := m.run(ctx, b, query)
		if err != nil {
			log.Warn("Image search backend failed", "backend", b.Searcher.Name(), "query", query, "error", err)
			continue
		}
		log.Debug("Image search backend answered", "backend", b.Searcher.Name(), "query", query, "results", len(urls))
		for _, u := range urls {
			if !seen[u] {
				seen[u] = true
				candidates = append(candidates, u)
			}
		}
	}

	if len(candidates) > 0 {
		m.cache.Add(key, append([]string(nil), candidates...))
	}
	return candidates
}

func (m *MultiSearcher) run(ctx context.Context, b guardedBackend, query string) ([]string, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		var urls []string
		err := backoff.Do(ctx, b.Policy, func(ctx context.Context) error {
			var err error
			urls, err = b.Searcher.Search(ctx, query)
			return err
		})
		return urls, err
	})
	if err != nil {
		return nil, err
	}
	urls, _ := res.([]string)
	return urls, nil
}
