package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/gosimple/slug"
	openai "github.com/sashabaranov/go-openai"

	"ankiforge/internal/backoff"
	"ankiforge/internal/logger"
)

// Speaker turns text into MP3 audio.
type Speaker interface {
	Speak(ctx context.Context, text, lang string) ([]byte, error)
}

// GoogleSpeaker uses the keyless Google Translate speech endpoint. Text is
// sent in chunks of at most 100 characters and the MP3 frames concatenated.
type GoogleSpeaker struct {
	http    *resty.Client
	baseURL string
}

const (
	googleTTSURL   = "https://translate.google.com/translate_tts"
	maxChunkLength = 100
)

func NewGoogleSpeaker(timeout time.Duration) *GoogleSpeaker {
	return &GoogleSpeaker{
		http: newHTTPClient(timeout, BrowserUserAgent).
			SetHeader("Referer", "https://translate.google.com/"),
		baseURL: googleTTSURL,
	}
}

func (g *GoogleSpeaker) Speak(ctx context.Context, text, lang string) ([]byte, error) {
	chunks := chunkText(text, maxChunkLength)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("google tts: nothing to speak")
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		resp, err := g.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"ie":      "UTF-8",
				"q":       chunk,
				"tl":      lang,
				"client":  "tw-ob",
				"total":   fmt.Sprint(len(chunks)),
				"idx":     fmt.Sprint(i),
				"textlen": fmt.Sprint(utf8.RuneCountInString(chunk)),
			}).
			Get(g.baseURL)
		if err != nil {
			return nil, backoff.Retryable(fmt.Errorf("google tts: %w", err))
		}
		if resp.IsError() {
			return nil, statusError("google tts", resp)
		}
		audio.Write(resp.Body())
	}
	return audio.Bytes(), nil
}

// chunkText splits text on whitespace into pieces of at most limit runes.
// Words longer than limit are split hard.
func chunkText(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > limit {
			flush()
			r := []rune(word)
			chunks = append(chunks, string(r[:limit]))
			word = string(r[limit:])
		}
		n := utf8.RuneCountInString(word)
		if curLen > 0 && curLen+1+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += n
	}
	flush()
	return chunks
}

// OpenAISpeaker uses the OpenAI speech endpoint.
type OpenAISpeaker struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

func NewOpenAISpeaker(apiKey string) *OpenAISpeaker {
	return &OpenAISpeaker{
		client: openai.NewClient(apiKey),
		model:  openai.TTSModel1,
		voice:  openai.VoiceAlloy,
	}
}

// Speak ignores lang; the model infers the language from the text.
func (o *OpenAISpeaker) Speak(ctx context.Context, text, _ string) ([]byte, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, backoff.Retryable(fmt.Errorf("openai speech: %w", err))
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai speech: %w", err)
	}
	return audio, nil
}

// Synthesizer produces audio with a Speaker and stores it as an MP3.
type Synthesizer struct {
	speaker Speaker
	store   MediaStore
	policy  backoff.Policy
}

func NewSynthesizer(speaker Speaker, store MediaStore, policy backoff.Policy) *Synthesizer {
	return &Synthesizer{speaker: speaker, store: store, policy: policy}
}

// SynthesizeAudio returns the stored filename, or ok=false on any failure.
func (s *Synthesizer) SynthesizeAudio(ctx context.Context, text, lang string) (string, bool) {
	log := logger.FromContext(ctx)
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if lang == "" {
		lang = "en"
	}

	var audio []byte
	err := backoff.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		audio, err = s.speaker.Speak(ctx, text, lang)
		return err
	})
	if err != nil {
		log.Warn("Speech synthesis failed", "text", text, "error", err)
		return "", false
	}
	if !isAudio(audio) {
		log.Warn("Speech backend returned non-audio content", "text", text, "mime", detectMIME(audio))
		return "", false
	}

	name := audioFilename(text, audio)
	stored, err := s.store.StoreMediaFile(ctx, name, base64.StdEncoding.EncodeToString(audio))
	if err != nil {
		log.Warn("Failed to store audio", "filename", name, "error", err)
		return "", false
	}
	if stored == "" {
		stored = name
	}
	return stored, true
}

func isAudio(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return strings.HasPrefix(detectMIME(data), "audio/")
}

func audioFilename(text string, audio []byte) string {
	prefix := []rune(text)
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	s := slug.Make(string(prefix))
	if s == "" {
		s = "clip"
	}
	sum := sha256.Sum256(audio)
	return fmt.Sprintf("tts_%s_%s.mp3", s, hex.EncodeToString(sum[:])[:12])
}
