package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"ankiforge/internal/agent"
	"ankiforge/internal/anki"
	"ankiforge/internal/backoff"
	"ankiforge/internal/index"
	"ankiforge/internal/llm"
	"ankiforge/internal/media"
	"ankiforge/internal/store"
)

// resolveDBPath returns the configured index path, defaulting to
// ./.ankiforge/index.db, and makes sure its directory exists.
func resolveDBPath() (string, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dbPath = filepath.Join(wd, ".ankiforge", "index.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return "", fmt.Errorf("create db directory: %w", err)
	}
	return dbPath, nil
}

func openIndex() (*index.Indexer, *store.SQLiteStore, error) {
	dbPath, err := resolveDBPath()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open index: %w", err)
	}
	idx := index.New(st, index.Config{Limit: cfg.Index.Limit, MinScore: cfg.Index.MinScore})
	return idx, st, nil
}

func newAnki() *anki.Client {
	return anki.New(cfg.Anki.URL, cfg.Anki.Timeout)
}

func newCompleter(ctx context.Context) (llm.Completer, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	return llm.New(ctx, cfg.LLM)
}

// newSearcher orders backends by result quality: Google when configured,
// then Wikimedia, then DuckDuckGo.
func newSearcher() (*media.MultiSearcher, error) {
	m := cfg.Media
	var backends []media.Backend
	if m.GoogleAPIKey != "" && m.GoogleCX != "" {
		backends = append(backends, media.Backend{
			Searcher: media.NewGoogleSearcher(m.GoogleAPIKey, m.GoogleCX, m.SearchTimeout),
			Policy:   backoff.SearchPolicy,
		})
	}
	backends = append(backends,
		media.Backend{Searcher: media.NewWikimediaSearcher(m.APIUserAgent, m.SearchTimeout), Policy: backoff.SearchPolicy},
		media.Backend{Searcher: media.NewDuckDuckGoSearcher(m.UserAgent, m.SearchTimeout), Policy: backoff.RateLimitedPolicy},
	)
	return media.NewMultiSearcher(m.Sufficient, backends...)
}

func newEnricher(store media.MediaStore) (*agent.Enricher, error) {
	if err := cfg.RequireTTS(); err != nil {
		return nil, err
	}
	searcher, err := newSearcher()
	if err != nil {
		return nil, err
	}
	downloader := media.NewDownloader(store, media.DownloaderConfig{
		Timeout:   cfg.Media.DownloadTimeout,
		MaxSize:   cfg.Media.MaxDownloadSize,
		UserAgent: cfg.Media.UserAgent,
		Policy:    backoff.DownloadPolicy,
	})

	var speaker media.Speaker
	switch cfg.Media.TTSProvider {
	case "openai":
		speaker = media.NewOpenAISpeaker(cfg.LLM.OpenAIKey)
	default:
		speaker = media.NewGoogleSpeaker(cfg.Media.SearchTimeout)
	}
	synth := media.NewSynthesizer(speaker, store, backoff.SearchPolicy)

	return agent.NewEnricher(searcher, downloader, synth, cfg.Media.Language), nil
}
