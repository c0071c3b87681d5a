package media

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ankiforge/internal/backoff"
	"ankiforge/internal/logger"
)

const (
	imageAccept            = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	defaultMaxDownloadSize = 10 << 20
)

var (
	errNotImage = errors.New("response is not an image")
	errTooLarge = errors.New("response exceeds size limit")
)

type DownloaderConfig struct {
	Timeout   time.Duration
	MaxSize   int64
	UserAgent string
	Policy    backoff.Policy
}

// Downloader fetches candidate images and stores the first one that works.
type Downloader struct {
	http    *resty.Client
	store   MediaStore
	maxSize int64
	policy  backoff.Policy
}

func NewDownloader(store MediaStore, cfg DownloaderConfig) *Downloader {
	if cfg.UserAgent == "" {
		cfg.UserAgent = BrowserUserAgent
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxDownloadSize
	}
	return &Downloader{
		http:    newHTTPClient(cfg.Timeout, cfg.UserAgent).SetHeader("Accept", imageAccept),
		store:   store,
		maxSize: cfg.MaxSize,
		policy:  cfg.Policy,
	}
}

// DownloadFirstWorking tries urls in order and returns the stored filename of
// the first candidate that yields an image. ok is false when all fail.
func (d *Downloader) DownloadFirstWorking(ctx context.Context, urls []string) (string, bool) {
	log := logger.FromContext(ctx)
	for _, u := range urls {
		if ctx.Err() != nil {
			return "", false
		}

		var body []byte
		var mime string
		err := backoff.Do(ctx, d.policy, func(ctx context.Context) error {
			var err error
			body, mime, err = d.fetch(ctx, u)
			return err
		})
		if err != nil {
			log.Debug("Image candidate rejected", "url", u, "error", err)
			continue
		}

		name := imageFilename(u, mime)
		stored, err := d.store.StoreMediaFile(ctx, name, base64.StdEncoding.EncodeToString(body))
		if err != nil {
			log.Warn("Failed to store image", "url", u, "filename", name, "error", err)
			continue
		}
		if stored == "" {
			stored = name
		}
		log.Debug("Image stored", "url", u, "filename", stored, "bytes", len(body))
		return stored, true
	}
	return "", false
}

func (d *Downloader) fetch(ctx context.Context, raw string) ([]byte, string, error) {
	req := d.http.R().SetContext(ctx).SetDoNotParseResponse(true)
	if host := hostOf(raw); host != "" {
		req.SetHeader("Referer", "https://"+host+"/")
	}

	resp, err := req.Get(raw)
	if err != nil {
		return nil, "", backoff.Retryable(fmt.Errorf("fetch %s: %w", raw, err))
	}
	rawBody := resp.RawBody()
	if rawBody == nil {
		return nil, "", fmt.Errorf("fetch %s: empty body", raw)
	}
	defer rawBody.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		err := fmt.Errorf("fetch %s returned %d", raw, resp.StatusCode())
		if transient(resp.StatusCode()) {
			return nil, "", backoff.Retryable(err)
		}
		return nil, "", err
	}

	body, err := io.ReadAll(io.LimitReader(rawBody, d.maxSize+1))
	if err != nil {
		return nil, "", backoff.Retryable(fmt.Errorf("read %s: %w", raw, err))
	}
	if int64(len(body)) > d.maxSize {
		return nil, "", errTooLarge
	}

	declared := mediaType(resp.Header().Get("Content-Type"))
	sniffed := detectMIME(body)
	switch {
	case strings.HasPrefix(sniffed, "image/"):
		return body, sniffed, nil
	case strings.HasPrefix(declared, "image/") && len(body) > 0 && !strings.HasPrefix(sniffed, "text/html"):
		return body, declared, nil
	default:
		return nil, "", errNotImage
	}
}

// imageFilename derives a stable name from the source URL.
func imageFilename(rawURL, mime string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return "web_img_" + hex.EncodeToString(sum[:])[:16] + extensionFor(mime, ".jpg")
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
