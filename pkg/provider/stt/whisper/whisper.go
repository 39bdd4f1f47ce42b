// Package whisper implements the stt.Transcriber interface on top of the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// Loading a model takes seconds; each recognition worker therefore constructs
// one Transcriber at startup and keeps it for the lifetime of the process.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/yc7764/whisperstream/pkg/audio"
	"github.com/yc7764/whisperstream/pkg/provider/stt"
)

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

const (
	defaultLanguage = "en"
	defaultBeamSize = 5
)

// Transcriber runs whisper.cpp inference on complete utterances. The model is
// loaded once in New; each Transcribe call creates a fresh whisper context,
// which is cheap relative to inference and keeps calls independent.
type Transcriber struct {
	model    whisperlib.Model
	language string
	beamSize int
}

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the default language code for transcription (e.g. "ko",
// "en"). A non-empty language argument to Transcribe takes precedence.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithBeamSize sets the beam search width. Defaults to 5.
func WithBeamSize(n int) Option {
	return func(t *Transcriber) { t.beamSize = n }
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the Transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:    model,
		language: defaultLanguage,
		beamSize: defaultBeamSize,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe converts pcm to float32 samples, runs whisper.cpp inference,
// and returns the recognized segments in order.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, language string) ([]stt.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context cancelled: %w", err)
	}
	if len(pcm) < 2 {
		return nil, nil
	}

	lang := language
	if lang == "" {
		lang = t.language
	}

	samples := audio.PCMToFloat32(pcm)

	// Each context is NOT thread-safe, but the model can be shared; a fresh
	// context per call keeps successive utterances independent.
	wctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	wctx.SetBeamSize(t.beamSize)
	// No cross-utterance conditioning: every utterance stands alone.
	wctx.SetMaxContext(0)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []stt.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segments = append(segments, stt.Segment{
			Text:  segment.Text,
			Start: segment.Start,
			End:   segment.End,
		})
	}
	return segments, nil
}
