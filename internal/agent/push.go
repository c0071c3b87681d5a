package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"ankiforge/internal/anki"
	"ankiforge/internal/card"
	"ankiforge/internal/logger"
)

// NoteAdder creates notes in the note store.
type NoteAdder interface {
	AddNote(ctx context.Context, note anki.Note) (int64, error)
}

// PushFailure is a record the note store refused for a reason other than
// being a duplicate.
type PushFailure struct {
	Index int
	Err   error
}

type PushReport struct {
	Added      int
	Duplicates int
	Excluded   int
	Failed     []PushFailure
}

// Pusher adds included records as notes.
type Pusher struct {
	notes NoteAdder
	tags  []string
}

func NewPusher(notes NoteAdder, tags ...string) *Pusher {
	return &Pusher{notes: notes, tags: tags}
}

// Push adds each included record. Duplicates are counted, not failed.
func (p *Pusher) Push(ctx context.Context, deck, model string, recs []card.Record) PushReport {
	log := logger.FromContext(ctx).With("deck", deck, "model", model)
	var report PushReport
	for i, r := range recs {
		if !r.Include {
			report.Excluded++
			continue
		}
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, PushFailure{Index: i, Err: ctx.Err()})
			continue
		}
		_, err := p.notes.AddNote(ctx, anki.Note{Deck: deck, Model: model, Fields: r.Fields, Tags: p.tags})
		switch {
		case err == nil:
			report.Added++
		case anki.IsDuplicate(err):
			report.Duplicates++
			log.Debug("Skipped duplicate note", "index", i)
		default:
			report.Failed = append(report.Failed, PushFailure{Index: i, Err: err})
			log.Warn("Failed to add note", "index", i, "error", err)
		}
	}
	return report
}

// Batch is a generated set of cards saved for review before pushing.
type Batch struct {
	RunID   string            `json:"run_id"`
	Deck    string            `json:"deck"`
	Model   string            `json:"model"`
	Topic   string            `json:"topic"`
	Fields  card.FieldTypeMap `json:"fields"`
	Records []card.Record     `json:"records"`
}

func SaveBatch(path string, b Batch) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write batch %s: %w", path, err)
	}
	return nil
}

func LoadBatch(path string) (Batch, error) {
	var b Batch
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read batch %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("decode batch %s: %w", path, err)
	}
	if b.Deck == "" || b.Model == "" {
		return b, fmt.Errorf("batch %s is missing deck or model", path)
	}
	return b, nil
}
