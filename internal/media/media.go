// Package media finds images, downloads them with fallback, and synthesizes
// speech, storing the results in the note store's media folder.
package media

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

// MediaStore persists base64-encoded media under a filename and returns the
// name it was stored as.
type MediaStore interface {
	StoreMediaFile(ctx context.Context, filename, b64 string) (string, error)
}

// Outcome describes what happened to one field during enrichment.
type Outcome int

const (
	// Unchanged means the field type needs no media.
	Unchanged Outcome = iota
	// Resolved means the value was replaced with a media reference.
	Resolved
	// NoCandidates means every search backend came back empty.
	NoCandidates
	// DownloadFailed means candidates existed but none could be fetched as an image.
	DownloadFailed
	// SynthesisFailed means speech could not be produced or stored.
	SynthesisFailed
	// Skipped means the value was too short to search for.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Resolved:
		return "resolved"
	case NoCandidates:
		return "no candidates"
	case DownloadFailed:
		return "download failed"
	case SynthesisFailed:
		return "synthesis failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Failed reports whether o is a soft failure worth surfacing to the user.
func (o Outcome) Failed() bool {
	return o == NoCandidates || o == DownloadFailed || o == SynthesisFailed
}

const (
	// BrowserUserAgent is sent when fetching images from arbitrary hosts.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// APIUserAgent identifies the tool to cooperative APIs such as Wikimedia.
	APIUserAgent = "ankiforge/1.0 (flashcard generator)"
)

func newHTTPClient(timeout time.Duration, userAgent string) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
}

// transient reports whether an HTTP status is worth retrying.
func transient(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusAccepted ||
		status == http.StatusRequestTimeout ||
		status >= 500
}

// detectMIME sniffs content with the stdlib first and falls back to the
// broader mimetype detector.
func detectMIME(head []byte) string {
	if len(head) == 0 {
		return "application/octet-stream"
	}
	mt := http.DetectContentType(head)
	if mt != "application/octet-stream" {
		return mt
	}
	return mimetype.Detect(head).String()
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	return strings.TrimSpace(mt)
}

// extensionFor maps a MIME type to a file extension, falling back to def.
func extensionFor(mime, def string) string {
	if m := mimetype.Lookup(mediaType(mime)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return def
}
