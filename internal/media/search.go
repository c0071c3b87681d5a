package media

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ankiforge/internal/backoff"
)

// Searcher returns candidate image URLs for a query, best first.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]string, error)
}

func statusError(backend string, resp *resty.Response) error {
	err := fmt.Errorf("%s returned %d", backend, resp.StatusCode())
	if transient(resp.StatusCode()) {
		return backoff.Retryable(err)
	}
	return err
}

// GoogleSearcher queries the Google Custom Search JSON API for images.
type GoogleSearcher struct {
	http    *resty.Client
	baseURL string
	key     string
	cx      string
	limit   int
}

const googleSearchURL = "https://www.googleapis.com/customsearch/v1"

func NewGoogleSearcher(key, cx string, timeout time.Duration) *GoogleSearcher {
	return &GoogleSearcher{
		http:    newHTTPClient(timeout, APIUserAgent),
		baseURL: googleSearchURL,
		key:     key,
		cx:      cx,
		limit:   3,
	}
}

func (g *GoogleSearcher) Name() string { return "google" }

type googleResponse struct {
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
}

func (g *GoogleSearcher) Search(ctx context.Context, query string) ([]string, error) {
	var out googleResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":        g.key,
			"cx":         g.cx,
			"q":          query,
			"searchType": "image",
			"safe":       "active",
			"num":        fmt.Sprint(g.limit),
		}).
		SetResult(&out).
		Get(g.baseURL)
	if err != nil {
		return nil, backoff.Retryable(fmt.Errorf("google search: %w", err))
	}
	if resp.IsError() {
		return nil, statusError("google search", resp)
	}

	urls := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		if item.Link != "" {
			urls = append(urls, item.Link)
		}
	}
	return urls, nil
}

// WikimediaSearcher searches bitmap files on Wikimedia Commons.
type WikimediaSearcher struct {
	http    *resty.Client
	baseURL string
	limit   int
}

const wikimediaURL = "https://commons.wikimedia.org/w/api.php"

func NewWikimediaSearcher(userAgent string, timeout time.Duration) *WikimediaSearcher {
	if userAgent == "" {
		userAgent = APIUserAgent
	}
	return &WikimediaSearcher{
		http:    newHTTPClient(timeout, userAgent),
		baseURL: wikimediaURL,
		limit:   3,
	}
}

func (w *WikimediaSearcher) Name() string { return "wikimedia" }

type wikimediaResponse struct {
	Query struct {
		Pages map[string]struct {
			Index     int `json:"index"`
			ImageInfo []struct {
				URL string `json:"url"`
			} `json:"imageinfo"`
		} `json:"pages"`
	} `json:"query"`
}

func (w *WikimediaSearcher) Search(ctx context.Context, query string) ([]string, error) {
	q := strings.TrimSpace(strings.ReplaceAll(query, "painting", ""))
	if q == "" {
		q = query
	}

	var out wikimediaResponse
	resp, err := w.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"action":       "query",
			"format":       "json",
			"generator":    "search",
			"gsrnamespace": "6",
			"gsrsearch":    q + " filetype:bitmap",
			"gsrlimit":     fmt.Sprint(w.limit),
			"prop":         "imageinfo",
			"iiprop":       "url",
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Get(w.baseURL)
	if err != nil {
		return nil, backoff.Retryable(fmt.Errorf("wikimedia search: %w", err))
	}
	if resp.IsError() {
		return nil, statusError("wikimedia search", resp)
	}

	type hit struct {
		index int
		url   string
	}
	hits := make([]hit, 0, len(out.Query.Pages))
	for _, page := range out.Query.Pages {
		if len(page.ImageInfo) > 0 && page.ImageInfo[0].URL != "" {
			hits = append(hits, hit{page.Index, page.ImageInfo[0].URL})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].index < hits[j].index })

	urls := make([]string, len(hits))
	for i, h := range hits {
		urls[i] = h.url
	}
	return urls, nil
}

// DuckDuckGoSearcher scrapes DuckDuckGo's image endpoint. It needs a vqd
// token from the HTML search page before each query.
type DuckDuckGoSearcher struct {
	http    *resty.Client
	baseURL string
	limit   int
}

const duckduckgoURL = "https://duckduckgo.com"

var (
	vqdPattern = regexp.MustCompile(`vqd=["']?([\d-]+)["']?`)

	errNoToken = errors.New("duckduckgo: no vqd token in response")
)

func NewDuckDuckGoSearcher(userAgent string, timeout time.Duration) *DuckDuckGoSearcher {
	if userAgent == "" {
		userAgent = BrowserUserAgent
	}
	return &DuckDuckGoSearcher{
		http:    newHTTPClient(timeout, userAgent).SetHeader("Referer", duckduckgoURL+"/"),
		baseURL: duckduckgoURL,
		limit:   2,
	}
}

func (d *DuckDuckGoSearcher) Name() string { return "duckduckgo" }

func (d *DuckDuckGoSearcher) token(ctx context.Context, query string) (string, error) {
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"q": query, "iax": "images", "ia": "images"}).
		Get(d.baseURL + "/")
	if err != nil {
		return "", backoff.Retryable(fmt.Errorf("duckduckgo token: %w", err))
	}
	if resp.IsError() {
		return "", statusError("duckduckgo token", resp)
	}
	m := vqdPattern.FindSubmatch(resp.Body())
	if m == nil {
		return "", backoff.Retryable(errNoToken)
	}
	return string(m[1]), nil
}

type duckduckgoResponse struct {
	Results []struct {
		Image string `json:"image"`
	} `json:"results"`
}

func (d *DuckDuckGoSearcher) Search(ctx context.Context, query string) ([]string, error) {
	vqd, err := d.token(ctx, query)
	if err != nil {
		return nil, err
	}

	var out duckduckgoResponse
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"l":   "wt-wt",
			"o":   "json",
			"q":   query,
			"vqd": vqd,
			"f":   ",,,,,",
			"p":   "1",
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Get(d.baseURL + "/i.js")
	if err != nil {
		return nil, backoff.Retryable(fmt.Errorf("duckduckgo images: %w", err))
	}
	// DuckDuckGo answers throttled requests with 202 or 403.
	if resp.StatusCode() != 200 {
		err := fmt.Errorf("duckduckgo images returned %d", resp.StatusCode())
		if transient(resp.StatusCode()) || resp.StatusCode() == 403 {
			return nil, backoff.Retryable(err)
		}
		return nil, err
	}

	urls := make([]string, 0, d.limit)
	for _, r := range out.Results {
		if len(urls) == d.limit {
			break
		}
		if r.Image != "" {
			urls = append(urls, r.Image)
		}
	}
	return urls, nil
}
