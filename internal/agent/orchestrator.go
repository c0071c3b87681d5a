// Package agent runs the card generation pipeline: grounding, gap analysis,
// generation and parsing, followed by media enrichment and pushing.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ankiforge/internal/card"
	"ankiforge/internal/llm"
	"ankiforge/internal/logger"
	"ankiforge/internal/parser"
	"ankiforge/internal/rag"
)

// ErrNoRecords means generation produced no parseable card. The raw model
// output is kept on the Result for inspection.
var ErrNoRecords = errors.New("no cards could be parsed from the model output")

// Retriever returns indexed card contents related to a text.
type Retriever interface {
	Query(ctx context.Context, text string, limit int) []string
}

type Stage int

const (
	StageGrounding Stage = iota
	StageGapAnalysis
	StageGeneration
	StageParse
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageGrounding:
		return "grounding"
	case StageGapAnalysis:
		return "gap-analysis"
	case StageGeneration:
		return "generation"
	case StageParse:
		return "parse"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Request is one generation run.
type Request struct {
	Topic  string
	Count  int
	Fields card.FieldTypeMap
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.Topic) == "":
		return errors.New("topic is required")
	case r.Count <= 0:
		return fmt.Errorf("count must be positive, got %d", r.Count)
	case len(r.Fields) == 0:
		return errors.New("at least one field is required")
	}
	return nil
}

// Result records what each stage produced.
type Result struct {
	RunID  string
	Topic  string
	Stages []Stage
	// Context is the grounding material shown to the model as existing cards.
	Context []string
	// Guide is the source material generation worked from.
	Guide string
	// Sufficient is set when gap analysis judged the topic narrow enough.
	Sufficient bool
	// GapFallback is set when gap analysis failed and the generic guide was used.
	GapFallback bool
	Raw         string
	Records     []card.Record
	Duration    time.Duration
}

type Config struct {
	// ContextLimit bounds each index query and the merged grounding context.
	ContextLimit int
	// ExcerptLength bounds the guide text used as a second grounding query.
	ExcerptLength int
}

const (
	DefaultContextLimit  = 30
	defaultExcerptLength = 1000
)

// Orchestrator sequences the generation stages.
type Orchestrator struct {
	llm    llm.Completer
	index  Retriever
	config Config
}

func New(completer llm.Completer, index Retriever, cfg Config) *Orchestrator {
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultContextLimit
	}
	if cfg.ExcerptLength <= 0 {
		cfg.ExcerptLength = defaultExcerptLength
	}
	return &Orchestrator{llm: completer, index: index, config: cfg}
}

// Run executes one request. Model failures degrade locally; the only error
// besides invalid input is ErrNoRecords, returned together with the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	start := time.Now()
	res := &Result{RunID: uuid.New().String(), Topic: req.Topic}
	log := logger.FromContext(ctx).With("run_id", res.RunID, "topic", req.Topic)

	res.Stages = append(res.Stages, StageGrounding)
	res.Context = o.index.Query(ctx, req.Topic, o.config.ContextLimit)
	log.Debug("Grounding complete", "cards", len(res.Context))

	res.Stages = append(res.Stages, StageGapAnalysis)
	o.analyzeGaps(ctx, log, res)
	if !res.Sufficient && !res.GapFallback {
		more := o.index.Query(ctx, excerpt(res.Guide, o.config.ExcerptLength), o.config.ContextLimit)
		res.Context = mergeContext(res.Context, more, o.config.ContextLimit)
	}

	res.Stages = append(res.Stages, StageGeneration)
	prompt := rag.GenerationPrompt(rag.GenerationInput{
		Source:   res.Guide,
		Existing: res.Context,
		Count:    req.Count,
		Fields:   req.Fields,
	})
	raw, err := o.llm.Complete(ctx, prompt)
	if err != nil {
		log.Warn("Generation failed", "error", err)
		raw = "Error: " + err.Error()
	}
	res.Raw = raw

	res.Stages = append(res.Stages, StageParse)
	records := parser.Parse(raw, req.Fields.Names())
	if len(records) > req.Count {
		records = records[:req.Count]
	}
	res.Records = records

	res.Stages = append(res.Stages, StageDone)
	res.Duration = time.Since(start)
	if len(records) == 0 {
		log.Warn("Model output produced no cards", "raw_length", len(raw))
		return res, ErrNoRecords
	}
	log.Info("Generated cards", "count", len(records), "context", len(res.Context), "duration", res.Duration)
	return res, nil
}

func (o *Orchestrator) analyzeGaps(ctx context.Context, log logger.Logger, res *Result) {
	answer, err := o.llm.Complete(ctx, rag.GapAnalysisPrompt(res.Topic, res.Context))
	answer = strings.TrimSpace(answer)
	switch {
	case err != nil || answer == "":
		if err != nil {
			log.Warn("Gap analysis failed, using fallback guide", "error", err)
		} else {
			log.Warn("Gap analysis returned nothing, using fallback guide")
		}
		res.Guide = rag.FallbackGuide(res.Topic)
		res.GapFallback = true
	case rag.IsSufficient(answer):
		res.Guide = res.Topic
		res.Sufficient = true
	default:
		res.Guide = answer
	}
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// mergeContext appends unseen entries of more to base, bounded by limit.
func mergeContext(base, more []string, limit int) []string {
	seen := make(map[string]bool, len(base)+len(more))
	out := make([]string, 0, min(len(base)+len(more), limit))
	for _, list := range [][]string{base, more} {
		for _, c := range list {
			if len(out) == limit {
				return out
			}
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
