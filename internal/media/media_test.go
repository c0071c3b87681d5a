package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ankiforge/internal/backoff"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
	mp3Bytes = append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
)

type memoryStore struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemoryStore() *memoryStore { return &memoryStore{files: map[string][]byte{}} }

func (m *memoryStore) StoreMediaFile(_ context.Context, filename, b64 string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filename] = data
	return filename, nil
}

func TestDownloader_DownloadFirstWorking(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good.png":
			assert.Contains(t, r.Header.Get("Accept"), "image/")
			assert.True(t, strings.HasPrefix(r.Header.Get("Referer"), "https://127.0.0.1"))
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>not an image</body></html>"))
		case "/mislabelled":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write(pngBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	newDownloader := func(st MediaStore) *Downloader {
		return NewDownloader(st, DownloaderConfig{Timeout: 2 * time.Second, Policy: backoff.None})
	}

	t.Run("Should skip a failing candidate and store the next image", func(t *testing.T) {
		st := newMemoryStore()

		name, ok := newDownloader(st).DownloadFirstWorking(ctx, []string{srv.URL + "/missing", srv.URL + "/good.png"})

		require.True(t, ok)
		assert.Regexp(t, `^web_img_[0-9a-f]{16}\.png$`, name)
		assert.Equal(t, pngBytes, st.files[name])
	})

	t.Run("Should report failure when every candidate fails", func(t *testing.T) {
		name, ok := newDownloader(newMemoryStore()).DownloadFirstWorking(ctx, []string{srv.URL + "/missing", srv.URL + "/gone"})

		assert.False(t, ok)
		assert.Empty(t, name)
	})

	t.Run("Should reject a non-image response", func(t *testing.T) {
		_, ok := newDownloader(newMemoryStore()).DownloadFirstWorking(ctx, []string{srv.URL + "/page.html"})

		assert.False(t, ok)
	})

	t.Run("Should accept image bytes despite a wrong content type", func(t *testing.T) {
		_, ok := newDownloader(newMemoryStore()).DownloadFirstWorking(ctx, []string{srv.URL + "/mislabelled"})

		assert.True(t, ok)
	})

	t.Run("Should reject bodies over the size limit", func(t *testing.T) {
		d := NewDownloader(newMemoryStore(), DownloaderConfig{Timeout: 2 * time.Second, MaxSize: 8, Policy: backoff.None})

		_, ok := d.DownloadFirstWorking(ctx, []string{srv.URL + "/good.png"})

		assert.False(t, ok)
	})

	t.Run("Should move on when the media store fails", func(t *testing.T) {
		st := newMemoryStore()
		st.err = errors.New("anki offline")

		_, ok := newDownloader(st).DownloadFirstWorking(ctx, []string{srv.URL + "/good.png"})

		assert.False(t, ok)
	})

	t.Run("Should name files stably per url", func(t *testing.T) {
		assert.Equal(t, imageFilename("https://x/a.jpg", "image/jpeg"), imageFilename("https://x/a.jpg", "image/jpeg"))
		assert.NotEqual(t, imageFilename("https://x/a.jpg", "image/jpeg"), imageFilename("https://x/b.jpg", "image/jpeg"))
		assert.True(t, strings.HasSuffix(imageFilename("https://x/a", "application/unknown"), ".jpg"))
	})
}

type fakeSearcher struct {
	name  string
	urls  []string
	err   error
	calls int
}

func (f *fakeSearcher) Name() string { return f.name }

func (f *fakeSearcher) Search(context.Context, string) ([]string, error) {
	f.calls++
	return f.urls, f.err
}

func TestMultiSearcher_SearchImages(t *testing.T) {
	ctx := context.Background()

	t.Run("Should stop once enough candidates are found", func(t *testing.T) {
		first := &fakeSearcher{name: "first", urls: []string{"u1", "u2"}}
		second := &fakeSearcher{name: "second", urls: []string{"u3"}}
		m, err := NewMultiSearcher(2, Backend{Searcher: first}, Backend{Searcher: second})
		require.NoError(t, err)

		got := m.SearchImages(ctx, "eagle")

		assert.Equal(t, []string{"u1", "u2"}, got)
		assert.Zero(t, second.calls)
	})

	t.Run("Should fall through failing backends and de-duplicate", func(t *testing.T) {
		broken := &fakeSearcher{name: "broken", err: errors.New("boom")}
		thin := &fakeSearcher{name: "thin", urls: []string{"u1"}}
		more := &fakeSearcher{name: "more", urls: []string{"u1", "u2"}}
		m, err := NewMultiSearcher(2, Backend{Searcher: broken}, Backend{Searcher: thin}, Backend{Searcher: more})
		require.NoError(t, err)

		got := m.SearchImages(ctx, "eagle")

		assert.Equal(t, []string{"u1", "u2"}, got)
	})

	t.Run("Should return empty when nothing is found", func(t *testing.T) {
		m, err := NewMultiSearcher(2, Backend{Searcher: &fakeSearcher{name: "empty"}})
		require.NoError(t, err)

		got := m.SearchImages(ctx, "nothing")

		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("Should serve repeated queries from cache", func(t *testing.T) {
		s := &fakeSearcher{name: "one", urls: []string{"u1", "u2"}}
		m, err := NewMultiSearcher(2, Backend{Searcher: s})
		require.NoError(t, err)

		m.SearchImages(ctx, "Eagle")
		m.SearchImages(ctx, "eagle ")

		assert.Equal(t, 1, s.calls)
	})

	t.Run("Should retry retryable backend errors under its policy", func(t *testing.T) {
		s := &fakeSearcher{name: "flaky", err: backoff.Retryable(errors.New("rate limited"))}
		policy := backoff.Policy{MaxRetries: 2, Base: time.Millisecond}
		m, err := NewMultiSearcher(2, Backend{Searcher: s, Policy: policy})
		require.NoError(t, err)

		assert.Empty(t, m.SearchImages(ctx, "eagle"))
		assert.Equal(t, 3, s.calls)
	})

	t.Run("Should open the breaker after repeated failures", func(t *testing.T) {
		s := &fakeSearcher{name: "down", err: errors.New("down")}
		m, err := NewMultiSearcher(2, Backend{Searcher: s})
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			m.SearchImages(ctx, fmt.Sprintf("q%d", i))
		}

		assert.Equal(t, 3, s.calls)
	})
}

func TestWikimediaSearcher(t *testing.T) {
	t.Run("Should order pages by search index", func(t *testing.T) {
		var query string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query().Get("gsrsearch")
			assert.Equal(t, "6", r.URL.Query().Get("gsrnamespace"))
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"query":{"pages":{
				"9":{"index":2,"imageinfo":[{"url":"https://upload/b.jpg"}]},
				"4":{"index":1,"imageinfo":[{"url":"https://upload/a.jpg"}]},
				"7":{"index":3}
			}}}`))
		}))
		t.Cleanup(srv.Close)
		w := NewWikimediaSearcher("", time.Second)
		w.baseURL = srv.URL

		got, err := w.Search(context.Background(), "Degas painting")
		require.NoError(t, err)

		assert.Equal(t, "Degas filetype:bitmap", query)
		assert.Equal(t, []string{"https://upload/a.jpg", "https://upload/b.jpg"}, got)
	})

	t.Run("Should mark throttling as retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		t.Cleanup(srv.Close)
		w := NewWikimediaSearcher("", time.Second)
		w.baseURL = srv.URL

		calls := 0
		err := backoff.Do(context.Background(), backoff.Policy{MaxRetries: 1, Base: time.Millisecond}, func(ctx context.Context) error {
			calls++
			_, err := w.Search(ctx, "eagle")
			return err
		})

		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestDuckDuckGoSearcher(t *testing.T) {
	t.Run("Should fetch a token then return at most two images", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/":
				_, _ = w.Write([]byte(`<script>vqd="4-12345-678";</script>`))
			case "/i.js":
				assert.Equal(t, "4-12345-678", r.URL.Query().Get("vqd"))
				assert.Equal(t, "wt-wt", r.URL.Query().Get("l"))
				_, _ = w.Write([]byte(`{"results":[{"image":"https://a/1.jpg"},{"image":"https://a/2.jpg"},{"image":"https://a/3.jpg"}]}`))
			}
		}))
		t.Cleanup(srv.Close)
		d := NewDuckDuckGoSearcher("", time.Second)
		d.baseURL = srv.URL

		got, err := d.Search(context.Background(), "eagle")
		require.NoError(t, err)

		assert.Equal(t, []string{"https://a/1.jpg", "https://a/2.jpg"}, got)
	})

	t.Run("Should fail when no token is present", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html></html>`))
		}))
		t.Cleanup(srv.Close)
		d := NewDuckDuckGoSearcher("", time.Second)
		d.baseURL = srv.URL

		_, err := d.Search(context.Background(), "eagle")

		assert.ErrorIs(t, err, errNoToken)
	})
}

func TestGoogleSearcher(t *testing.T) {
	t.Run("Should request safe image results and return links", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "image", q.Get("searchType"))
			assert.Equal(t, "active", q.Get("safe"))
			assert.Equal(t, "cx-1", q.Get("cx"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"items":[{"link":"https://g/1.png"},{"link":""}]}`))
		}))
		t.Cleanup(srv.Close)
		g := NewGoogleSearcher("key", "cx-1", time.Second)
		g.baseURL = srv.URL

		got, err := g.Search(context.Background(), "eagle")
		require.NoError(t, err)

		assert.Equal(t, []string{"https://g/1.png"}, got)
	})
}

type fakeSpeaker struct {
	audio []byte
	err   error
}

func (f fakeSpeaker) Speak(context.Context, string, string) ([]byte, error) { return f.audio, f.err }

func TestSynthesizer_SynthesizeAudio(t *testing.T) {
	ctx := context.Background()

	t.Run("Should store audio under a slugged hashed name", func(t *testing.T) {
		st := newMemoryStore()
		s := NewSynthesizer(fakeSpeaker{audio: mp3Bytes}, st, backoff.None)

		name, ok := s.SynthesizeAudio(ctx, "Bonjour le monde!", "fr")

		require.True(t, ok)
		assert.Regexp(t, `^tts_bonjour-le_[0-9a-f]{12}\.mp3$`, name)
		assert.Equal(t, mp3Bytes, st.files[name])
	})

	t.Run("Should fail softly when the backend errors", func(t *testing.T) {
		s := NewSynthesizer(fakeSpeaker{err: errors.New("quota")}, newMemoryStore(), backoff.None)

		_, ok := s.SynthesizeAudio(ctx, "hello", "en")

		assert.False(t, ok)
	})

	t.Run("Should reject non-audio payloads", func(t *testing.T) {
		s := NewSynthesizer(fakeSpeaker{audio: []byte("<html>captcha</html>")}, newMemoryStore(), backoff.None)

		_, ok := s.SynthesizeAudio(ctx, "hello", "en")

		assert.False(t, ok)
	})

	t.Run("Should not synthesize blank text", func(t *testing.T) {
		s := NewSynthesizer(fakeSpeaker{audio: mp3Bytes}, newMemoryStore(), backoff.None)

		_, ok := s.SynthesizeAudio(ctx, "   ", "en")

		assert.False(t, ok)
	})
}

func TestGoogleSpeaker(t *testing.T) {
	t.Run("Should request each chunk and concatenate the audio", func(t *testing.T) {
		var chunks []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "tw-ob", q.Get("client"))
			assert.Equal(t, "de", q.Get("tl"))
			chunks = append(chunks, q.Get("q"))
			_, _ = w.Write([]byte("ab"))
		}))
		t.Cleanup(srv.Close)
		g := NewGoogleSpeaker(time.Second)
		g.baseURL = srv.URL

		audio, err := g.Speak(context.Background(), strings.Repeat("wort ", 30), "de")
		require.NoError(t, err)

		assert.Len(t, chunks, 2)
		assert.Equal(t, []byte("abab"), audio)
	})
}

func TestChunkText(t *testing.T) {
	t.Run("Should keep chunks within the limit on word boundaries", func(t *testing.T) {
		got := chunkText("one two three four", 9)

		assert.Equal(t, []string{"one two", "three", "four"}, got)
	})

	t.Run("Should hard split overlong words", func(t *testing.T) {
		got := chunkText("abcdefghij", 4)

		assert.Equal(t, []string{"abcd", "efgh", "ij"}, got)
	})
}

func TestOutcome(t *testing.T) {
	t.Run("Should distinguish soft failures from nothing to do", func(t *testing.T) {
		assert.True(t, NoCandidates.Failed())
		assert.True(t, DownloadFailed.Failed())
		assert.True(t, SynthesisFailed.Failed())
		assert.False(t, Unchanged.Failed())
		assert.False(t, Resolved.Failed())
		assert.NotEqual(t, NoCandidates.String(), DownloadFailed.String())
	})
}
