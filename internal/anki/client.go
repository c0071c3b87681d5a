// Package anki talks to a running Anki instance through the AnkiConnect add-on.
package anki

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultURL is where AnkiConnect listens by default.
	DefaultURL = "http://localhost:8765"
	apiVersion = 6
	batchSize  = 50
)

// ErrDuplicate is returned by AddNote when Anki rejects the note as a duplicate.
var ErrDuplicate = errors.New("duplicate note")

// APIError is an error reported inside an AnkiConnect response envelope.
type APIError struct {
	Action  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ankiconnect %s: %s", e.Action, e.Message)
}

// IsDuplicate reports whether err means the note already exists.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}

// Client is an AnkiConnect JSON-RPC client.
type Client struct {
	http *resty.Client
}

// New creates a client for the AnkiConnect endpoint at url.
func New(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(url).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type envelope[T any] struct {
	Result T       `json:"result"`
	Error  *string `json:"error"`
}

func invoke[T any](ctx context.Context, c *Client, action string, params any) (T, error) {
	var env envelope[T]
	var zero T

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{Action: action, Version: apiVersion, Params: params}).
		SetResult(&env).
		ForceContentType("application/json").
		Post("")
	if err != nil {
		return zero, fmt.Errorf("ankiconnect %s: %w", action, err)
	}
	if resp.IsError() {
		return zero, fmt.Errorf("ankiconnect %s returned %d: %s", action, resp.StatusCode(), resp.String())
	}
	if env.Error != nil && *env.Error != "" {
		return zero, &APIError{Action: action, Message: *env.Error}
	}
	return env.Result, nil
}

// Version returns the AnkiConnect API version, useful as a connectivity check.
func (c *Client) Version(ctx context.Context) (int, error) {
	return invoke[int](ctx, c, "version", nil)
}

func (c *Client) DeckNames(ctx context.Context) ([]string, error) {
	return invoke[[]string](ctx, c, "deckNames", nil)
}

func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	return invoke[[]string](ctx, c, "modelNames", nil)
}

// ModelFieldNames returns the model's fields in template order.
func (c *Client) ModelFieldNames(ctx context.Context, model string) ([]string, error) {
	return invoke[[]string](ctx, c, "modelFieldNames", map[string]any{"modelName": model})
}

// Note is a note to be created.
type Note struct {
	Deck   string            `json:"deckName"`
	Model  string            `json:"modelName"`
	Fields map[string]string `json:"fields"`
	Tags   []string          `json:"tags,omitempty"`
}

type noteOptions struct {
	AllowDuplicate bool `json:"allowDuplicate"`
}

type addNoteParams struct {
	Note struct {
		Note
		Options noteOptions `json:"options"`
	} `json:"note"`
}

// AddNote creates a note and returns its id. Anki's duplicate check stays on;
// a duplicate comes back wrapped in ErrDuplicate.
func (c *Client) AddNote(ctx context.Context, note Note) (int64, error) {
	var p addNoteParams
	p.Note.Note = note
	p.Note.Options = noteOptions{AllowDuplicate: false}

	id, err := invoke[int64](ctx, c, "addNote", p)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && IsDuplicate(apiErr) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicate, apiErr.Message)
		}
		return 0, err
	}
	return id, nil
}

// StoreMediaFile writes base64-encoded data into Anki's media folder.
func (c *Client) StoreMediaFile(ctx context.Context, filename, b64 string) (string, error) {
	return invoke[string](ctx, c, "storeMediaFile", map[string]any{
		"filename": filename,
		"data":     b64,
	})
}

func (c *Client) FindNotes(ctx context.Context, query string) ([]int64, error) {
	return invoke[[]int64](ctx, c, "findNotes", map[string]any{"query": query})
}

// NoteField is one field of a fetched note.
type NoteField struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

// NoteInfo is a fetched note.
type NoteInfo struct {
	NoteID    int64                `json:"noteId"`
	ModelName string               `json:"modelName"`
	Tags      []string             `json:"tags"`
	Fields    map[string]NoteField `json:"fields"`
}

// NotesInfo fetches notes in batches of 50.
func (c *Client) NotesInfo(ctx context.Context, ids []int64) ([]NoteInfo, error) {
	out := make([]NoteInfo, 0, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batch, err := invoke[[]NoteInfo](ctx, c, "notesInfo", map[string]any{"notes": ids[start:end]})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Client) CreateDeck(ctx context.Context, deck string) (int64, error) {
	return invoke[int64](ctx, c, "createDeck", map[string]any{"deck": deck})
}

// CardTemplate is one card template of a note model.
type CardTemplate struct {
	Name  string `json:"Name"`
	Front string `json:"Front"`
	Back  string `json:"Back"`
}

// Model describes a note model to create.
type Model struct {
	Name      string         `json:"modelName"`
	Fields    []string       `json:"inOrderFields"`
	CSS       string         `json:"css"`
	Templates []CardTemplate `json:"cardTemplates"`
}

func (c *Client) CreateModel(ctx context.Context, m Model) error {
	_, err := invoke[any](ctx, c, "createModel", m)
	return err
}
