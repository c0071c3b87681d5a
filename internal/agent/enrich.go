package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ankiforge/internal/card"
	"ankiforge/internal/logger"
	"ankiforge/internal/media"
)

// ImageFinder returns candidate image URLs for a query.
type ImageFinder interface {
	SearchImages(ctx context.Context, query string) []string
}

// ImageDownloader stores the first candidate that downloads as an image.
type ImageDownloader interface {
	DownloadFirstWorking(ctx context.Context, urls []string) (string, bool)
}

// AudioSynthesizer stores spoken audio for a text.
type AudioSynthesizer interface {
	SynthesizeAudio(ctx context.Context, text, lang string) (string, bool)
}

// FieldHandler resolves one field value into its final form.
type FieldHandler interface {
	Handle(ctx context.Context, value string) (string, media.Outcome)
}

// minImageQuery is the shortest value worth sending to image search.
const minImageQuery = 3

type passthrough struct{}

func (passthrough) Handle(_ context.Context, value string) (string, media.Outcome) {
	return value, media.Unchanged
}

type imageHandler struct {
	finder     ImageFinder
	downloader ImageDownloader
}

func (h imageHandler) Handle(ctx context.Context, value string) (string, media.Outcome) {
	query := strings.TrimSpace(value)
	if utf8.RuneCountInString(query) < minImageQuery {
		return value, media.Skipped
	}
	urls := h.finder.SearchImages(ctx, query)
	if len(urls) == 0 {
		return value, media.NoCandidates
	}
	name, ok := h.downloader.DownloadFirstWorking(ctx, urls)
	if !ok {
		return value, media.DownloadFailed
	}
	return card.ImageRef(name), media.Resolved
}

type audioHandler struct {
	synth AudioSynthesizer
	lang  string
}

func (h audioHandler) Handle(ctx context.Context, value string) (string, media.Outcome) {
	text := strings.TrimSpace(value)
	if text == "" {
		return value, media.Skipped
	}
	name, ok := h.synth.SynthesizeAudio(ctx, text, h.lang)
	if !ok {
		return value, media.SynthesisFailed
	}
	return card.AudioRef(name), media.Resolved
}

// FieldOutcome reports what happened to one field of one record.
type FieldOutcome struct {
	Field   string
	Type    card.FieldType
	Outcome media.Outcome
	// Input is the value before enrichment, e.g. the image search query.
	Input string
}

// Enricher replaces media field values with stored media references.
type Enricher struct {
	handlers map[card.FieldType]FieldHandler
}

func NewEnricher(finder ImageFinder, downloader ImageDownloader, synth AudioSynthesizer, lang string) *Enricher {
	e := &Enricher{handlers: make(map[card.FieldType]FieldHandler, len(card.AllFieldTypes))}
	for _, t := range card.AllFieldTypes {
		e.handlers[t] = handlerFor(t, finder, downloader, synth, lang)
	}
	return e
}

func handlerFor(t card.FieldType, finder ImageFinder, downloader ImageDownloader, synth AudioSynthesizer, lang string) FieldHandler {
	switch t {
	case card.Image:
		return imageHandler{finder: finder, downloader: downloader}
	case card.Audio:
		return audioHandler{synth: synth, lang: lang}
	case card.Text, card.Code, card.Skip:
		return passthrough{}
	default:
		panic(fmt.Sprintf("agent: no handler for field type %s", t))
	}
}

// Enrich resolves every media field of rec in field order. The input record
// is not modified. Failed acquisitions keep the original text.
func (e *Enricher) Enrich(ctx context.Context, rec card.Record, fields card.FieldTypeMap) (card.Record, []FieldOutcome) {
	log := logger.FromContext(ctx)
	out := rec.Clone()
	outcomes := make([]FieldOutcome, 0, len(fields))
	for _, f := range fields {
		value := out.Fields[f.Name]
		resolved, outcome := e.handlers[f.Type].Handle(ctx, value)
		out.Fields[f.Name] = resolved
		outcomes = append(outcomes, FieldOutcome{Field: f.Name, Type: f.Type, Outcome: outcome, Input: value})
		if outcome.Failed() {
			log.Warn("Media acquisition failed, keeping text", "field", f.Name, "value", value, "outcome", outcome.String())
		}
	}
	return out, outcomes
}

// EnrichAll enriches included records sequentially. Excluded records pass
// through untouched.
func (e *Enricher) EnrichAll(ctx context.Context, recs []card.Record, fields card.FieldTypeMap) ([]card.Record, [][]FieldOutcome) {
	out := make([]card.Record, len(recs))
	outcomes := make([][]FieldOutcome, len(recs))
	for i, r := range recs {
		if !r.Include || ctx.Err() != nil {
			out[i] = r.Clone()
			continue
		}
		out[i], outcomes[i] = e.Enrich(ctx, r, fields)
	}
	return out, outcomes
}
