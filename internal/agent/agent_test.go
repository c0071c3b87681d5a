package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ankiforge/internal/anki"
	"ankiforge/internal/card"
	"ankiforge/internal/index"
	"ankiforge/internal/media"
	"ankiforge/internal/store"
)

func isGeneration(prompt string) bool {
	return strings.Contains(prompt, "Anki card generator")
}

// scriptedLLM answers gap analysis with gap and generation with gen,
// recording both prompts.
type scriptedLLM struct {
	gap, gen       string
	gapErr, genErr error
	gapPrompt      string
	genPrompt      string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	if isGeneration(prompt) {
		s.genPrompt = prompt
		return s.gen, s.genErr
	}
	s.gapPrompt = prompt
	return s.gap, s.gapErr
}

type staticRetriever map[string][]string

func (r staticRetriever) Query(_ context.Context, text string, _ int) []string {
	if v, ok := r[text]; ok {
		return v
	}
	return []string{}
}

var basicFields = card.FieldTypeMap{
	{Name: "Front", Type: card.Text},
	{Name: "Back", Type: card.Text},
}

func TestOrchestrator_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("Should record every stage and parse the generated cards", func(t *testing.T) {
		l := &scriptedLLM{gap: "Window frames and LAG/LEAD.", gen: "Q1|A1\nQ2|A2\n"}
		o := New(l, staticRetriever{}, Config{})

		res, err := o.Run(ctx, Request{Topic: "SQL", Count: 5, Fields: basicFields})
		require.NoError(t, err)

		assert.Equal(t, []Stage{StageGrounding, StageGapAnalysis, StageGeneration, StageParse, StageDone}, res.Stages)
		assert.NotEmpty(t, res.RunID)
		assert.Equal(t, "Window frames and LAG/LEAD.", res.Guide)
		require.Len(t, res.Records, 2)
		assert.Equal(t, "A2", res.Records[1].Fields["Back"])
		assert.Contains(t, l.genPrompt, "Window frames and LAG/LEAD.")
	})

	t.Run("Should use the topic itself when gap analysis says sufficient", func(t *testing.T) {
		l := &scriptedLLM{gap: "SUFFICIENT", gen: "Q|A"}
		res, err := New(l, staticRetriever{}, Config{}).Run(ctx, Request{Topic: "NTILE", Count: 1, Fields: basicFields})
		require.NoError(t, err)

		assert.True(t, res.Sufficient)
		assert.Equal(t, "NTILE", res.Guide)
	})

	t.Run("Should keep a guide that merely mentions sufficiency", func(t *testing.T) {
		for _, guide := range []string{
			"A PARTITION BY clause is sufficient to reset numbering; study frame clauses next.",
			"The existing cards are insufficient. Cover LAG, LEAD and NTILE.",
		} {
			l := &scriptedLLM{gap: guide, gen: "Q|A"}
			res, err := New(l, staticRetriever{}, Config{}).Run(ctx, Request{Topic: "SQL", Count: 1, Fields: basicFields})
			require.NoError(t, err)

			assert.False(t, res.Sufficient, guide)
			assert.Equal(t, guide, res.Guide)
			assert.Contains(t, l.genPrompt, guide)
		}
	})

	t.Run("Should fall back to a generic guide when gap analysis fails", func(t *testing.T) {
		l := &scriptedLLM{gapErr: errors.New("quota"), gen: "Q|A"}
		res, err := New(l, staticRetriever{}, Config{}).Run(ctx, Request{Topic: "SQL", Count: 1, Fields: basicFields})
		require.NoError(t, err)

		assert.True(t, res.GapFallback)
		assert.Equal(t, "Focus on advanced concepts of SQL.", res.Guide)
	})

	t.Run("Should fall back when gap analysis returns blank text", func(t *testing.T) {
		l := &scriptedLLM{gap: "   ", gen: "Q|A"}
		res, err := New(l, staticRetriever{}, Config{}).Run(ctx, Request{Topic: "SQL", Count: 1, Fields: basicFields})
		require.NoError(t, err)

		assert.True(t, res.GapFallback)
	})

	t.Run("Should surface generation failure as no records with the raw text", func(t *testing.T) {
		l := &scriptedLLM{gap: "guide", genErr: errors.New("upstream 500")}
		res, err := New(l, staticRetriever{}, Config{}).Run(ctx, Request{Topic: "SQL", Count: 3, Fields: basicFields})

		assert.ErrorIs(t, err, ErrNoRecords)
		require.NotNil(t, res)
		assert.Equal(t, "Error: upstream 500", res.Raw)
		assert.Empty(t, res.Records)
	})

	t.Run("Should keep malformed output for inspection", func(t *testing.T) {
		l := &scriptedLLM{gap: "guide", gen: "Here are your cards!\nnone of them have pipes"}
		res, err := New(l, staticRetriever{}, Config{}).Run(ctx, Request{Topic: "SQL", Count: 3, Fields: basicFields})

		assert.ErrorIs(t, err, ErrNoRecords)
		assert.Contains(t, res.Raw, "Here are your cards!")
	})

	t.Run("Should truncate to the requested count", func(t *testing.T) {
		l := &scriptedLLM{gap: "guide", gen: "Q1|A1\nQ2|A2\nQ3|A3"}
		res, err := New(l, staticRetriever{}, Config{}).Run(ctx, Request{Topic: "SQL", Count: 2, Fields: basicFields})
		require.NoError(t, err)

		assert.Len(t, res.Records, 2)
	})

	t.Run("Should merge grounding from the topic and the guide", func(t *testing.T) {
		r := staticRetriever{
			"SQL":   {"c1", "c2"},
			"guide": {"c2", "c3"},
		}
		l := &scriptedLLM{gap: "guide", gen: "Q|A"}
		res, err := New(l, r, Config{ContextLimit: 3}).Run(ctx, Request{Topic: "SQL", Count: 1, Fields: basicFields})
		require.NoError(t, err)

		assert.Equal(t, []string{"c1", "c2", "c3"}, res.Context)
		assert.Contains(t, l.genPrompt, "- c3")
	})

	t.Run("Should reject an empty topic", func(t *testing.T) {
		_, err := New(&scriptedLLM{}, staticRetriever{}, Config{}).Run(ctx, Request{Count: 1, Fields: basicFields})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoRecords)
	})
}

func TestOrchestrator_WindowFunctions(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx := index.New(st, index.Config{MinScore: index.DefaultMinScore})
	existing := "RANK vs DENSE_RANK window functions | RANK leaves gaps after ties while DENSE_RANK does not"
	_, err = idx.Build(ctx, []card.Snapshot{
		{ID: "1", Deck: "SQL", Content: existing},
		{ID: "2", Deck: "Art", Content: "Who painted The Dance Class? | Edgar Degas"},
		{ID: "3", Deck: "Bio", Content: "Photosynthesis converts light | into chemical energy"},
	})
	require.NoError(t, err)

	l := &scriptedLLM{
		gap: "Cover ROW_NUMBER, NTILE, LAG and LEAD and window frame clauses.",
		gen: "```text\n1. What does NTILE(4) do?|Splits rows into 4 buckets\n2. What does LAG return?|The previous row's value|\n3. What is a frame clause?|ROWS BETWEEN ...\n```",
	}
	res, err := New(l, idx, Config{}).Run(ctx, Request{Topic: "Window Functions", Count: 2, Fields: basicFields})
	require.NoError(t, err)

	t.Run("Should show the existing card to gap analysis and generation", func(t *testing.T) {
		assert.Contains(t, res.Context, existing)
		assert.Contains(t, l.gapPrompt, existing)
		assert.Contains(t, l.genPrompt, "EXISTING CARDS")
		assert.Contains(t, l.genPrompt, existing)
	})

	t.Run("Should not return more cards than requested", func(t *testing.T) {
		assert.LessOrEqual(t, len(res.Records), 2)
		assert.Equal(t, "What does NTILE(4) do?", res.Records[0].Fields["Front"])
	})
}

type fakeFinder struct {
	urls    []string
	queries []string
}

func (f *fakeFinder) SearchImages(_ context.Context, q string) []string {
	f.queries = append(f.queries, q)
	return f.urls
}

type fakeDownloader struct {
	name string
	ok   bool
}

func (f fakeDownloader) DownloadFirstWorking(context.Context, []string) (string, bool) {
	return f.name, f.ok
}

type fakeSynth struct {
	name string
	ok   bool
	lang string
}

func (f *fakeSynth) SynthesizeAudio(_ context.Context, _ string, lang string) (string, bool) {
	f.lang = lang
	return f.name, f.ok
}

func TestEnricher_Enrich(t *testing.T) {
	ctx := context.Background()
	fields := card.FieldTypeMap{
		{Name: "Front", Type: card.Text},
		{Name: "Back", Type: card.Text},
		{Name: "Pic", Type: card.Image},
	}
	rec := card.NewRecord(fields.Names(), []string{"Q1", "A1", "eagle"})

	t.Run("Should replace the image query with a reference on success", func(t *testing.T) {
		e := NewEnricher(&fakeFinder{urls: []string{"u1"}}, fakeDownloader{name: "web_img_x.jpg", ok: true}, &fakeSynth{}, "en")

		got, outcomes := e.Enrich(ctx, rec, fields)

		assert.Equal(t, `<img src="web_img_x.jpg">`, got.Fields["Pic"])
		assert.Equal(t, "Q1", got.Fields["Front"])
		assert.Equal(t, media.Resolved, outcomes[2].Outcome)
		assert.Equal(t, "eagle", rec.Fields["Pic"])
	})

	t.Run("Should keep the query when every candidate fails", func(t *testing.T) {
		e := NewEnricher(&fakeFinder{urls: []string{"u1", "u2"}}, fakeDownloader{}, &fakeSynth{}, "en")

		got, outcomes := e.Enrich(ctx, rec, fields)

		assert.Equal(t, "eagle", got.Fields["Pic"])
		assert.Equal(t, media.DownloadFailed, outcomes[2].Outcome)
	})

	t.Run("Should distinguish no candidates from failed downloads", func(t *testing.T) {
		e := NewEnricher(&fakeFinder{}, fakeDownloader{ok: true, name: "x"}, &fakeSynth{}, "en")

		got, outcomes := e.Enrich(ctx, rec, fields)

		assert.Equal(t, "eagle", got.Fields["Pic"])
		assert.Equal(t, media.NoCandidates, outcomes[2].Outcome)
	})

	t.Run("Should not search for very short values", func(t *testing.T) {
		finder := &fakeFinder{urls: []string{"u1"}}
		e := NewEnricher(finder, fakeDownloader{ok: true, name: "x"}, &fakeSynth{}, "en")
		short := card.NewRecord(fields.Names(), []string{"Q", "A", "ox"})

		got, outcomes := e.Enrich(ctx, short, fields)

		assert.Equal(t, "ox", got.Fields["Pic"])
		assert.Equal(t, media.Skipped, outcomes[2].Outcome)
		assert.Empty(t, finder.queries)
	})

	t.Run("Should synthesize audio fields in the configured language", func(t *testing.T) {
		audioFields := card.FieldTypeMap{{Name: "Word", Type: card.Text}, {Name: "Say", Type: card.Audio}}
		synth := &fakeSynth{name: "tts_bonjour_abc.mp3", ok: true}
		e := NewEnricher(&fakeFinder{}, fakeDownloader{}, synth, "fr")

		got, _ := e.Enrich(ctx, card.NewRecord(audioFields.Names(), []string{"hello", "bonjour"}), audioFields)

		assert.Equal(t, "[sound:tts_bonjour_abc.mp3]", got.Fields["Say"])
		assert.Equal(t, "fr", synth.lang)
	})

	t.Run("Should keep spoken text when synthesis fails", func(t *testing.T) {
		audioFields := card.FieldTypeMap{{Name: "Say", Type: card.Audio}}
		e := NewEnricher(&fakeFinder{}, fakeDownloader{}, &fakeSynth{}, "en")

		got, outcomes := e.Enrich(ctx, card.NewRecord(audioFields.Names(), []string{"bonjour"}), audioFields)

		assert.Equal(t, "bonjour", got.Fields["Say"])
		assert.Equal(t, media.SynthesisFailed, outcomes[0].Outcome)
	})

	t.Run("Should leave code and skip fields untouched", func(t *testing.T) {
		other := card.FieldTypeMap{{Name: "Code", Type: card.Code}, {Name: "Notes", Type: card.Skip}}
		e := NewEnricher(&fakeFinder{}, fakeDownloader{}, &fakeSynth{}, "en")

		got, outcomes := e.Enrich(ctx, card.NewRecord(other.Names(), []string{"<pre><code>x</code></pre>", ""}), other)

		assert.Equal(t, "<pre><code>x</code></pre>", got.Fields["Code"])
		assert.Equal(t, media.Unchanged, outcomes[0].Outcome)
		assert.Equal(t, media.Unchanged, outcomes[1].Outcome)
	})

	t.Run("Should skip excluded records", func(t *testing.T) {
		finder := &fakeFinder{urls: []string{"u1"}}
		e := NewEnricher(finder, fakeDownloader{ok: true, name: "x"}, &fakeSynth{}, "en")
		excluded := rec.Clone()
		excluded.Include = false

		got, outcomes := e.EnrichAll(ctx, []card.Record{excluded}, fields)

		assert.Equal(t, "eagle", got[0].Fields["Pic"])
		assert.Nil(t, outcomes[0])
		assert.Empty(t, finder.queries)
	})
}

type fakeNotes struct {
	errs  map[string]error
	added []anki.Note
}

func (f *fakeNotes) AddNote(_ context.Context, n anki.Note) (int64, error) {
	if err := f.errs[n.Fields["Front"]]; err != nil {
		return 0, err
	}
	f.added = append(f.added, n)
	return int64(len(f.added)), nil
}

func TestPusher_Push(t *testing.T) {
	t.Run("Should count added, duplicate, excluded and failed notes", func(t *testing.T) {
		notes := &fakeNotes{errs: map[string]error{
			"dup": anki.ErrDuplicate,
			"bad": errors.New("model was not found"),
		}}
		recs := []card.Record{
			card.NewRecord([]string{"Front"}, []string{"ok"}),
			card.NewRecord([]string{"Front"}, []string{"dup"}),
			card.NewRecord([]string{"Front"}, []string{"bad"}),
			{Fields: map[string]string{"Front": "skip"}, Include: false},
		}

		report := NewPusher(notes, "ankiforge").Push(context.Background(), "SQL", "Basic", recs)

		assert.Equal(t, 1, report.Added)
		assert.Equal(t, 1, report.Duplicates)
		assert.Equal(t, 1, report.Excluded)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, 2, report.Failed[0].Index)
		assert.Equal(t, "SQL", notes.added[0].Deck)
		assert.Equal(t, []string{"ankiforge"}, notes.added[0].Tags)
	})
}

func TestBatch(t *testing.T) {
	t.Run("Should round trip a review batch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cards.json")
		b := Batch{RunID: "r", Deck: "SQL", Model: "Basic", Topic: "t", Fields: basicFields,
			Records: []card.Record{card.NewRecord(basicFields.Names(), []string{"Q", "A"})}}

		require.NoError(t, SaveBatch(path, b))
		got, err := LoadBatch(path)
		require.NoError(t, err)

		assert.Equal(t, b, got)
	})

	t.Run("Should reject a batch without a deck", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cards.json")
		require.NoError(t, SaveBatch(path, Batch{Model: "Basic"}))

		_, err := LoadBatch(path)
		assert.Error(t, err)
	})
}
