// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber turns a finished utterance — a buffer of 16-bit little-endian
// mono PCM at a known sample rate — into an ordered list of text segments.
// The endpoint detector decides where utterances begin and end; the
// Transcriber only ever sees complete utterances, so the interface is batch
// rather than streaming.
//
// A Transcriber is owned by exactly one recognition worker and is never
// shared across workers. Implementations must be reentrant-safe for
// sequential calls from that worker but need not support concurrent calls.
package stt

import (
	"context"
	"time"
)

// Segment is one contiguous piece of recognized text within an utterance.
type Segment struct {
	// Text is the recognized content. May be empty for segments the model
	// classified as non-speech.
	Text string

	// Start and End are offsets within the transcribed buffer, as reported
	// by the backend. Zero when the backend does not report timing.
	Start time.Duration
	End   time.Duration
}

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe recognizes a complete utterance. pcm is 16-bit little-endian
	// mono PCM at the sample rate the Transcriber was constructed with.
	// language is a BCP-47-ish code (e.g. "ko", "en"); an empty string keeps
	// the backend default. The returned segments are in utterance order and
	// may be empty when the buffer contains no recognizable speech.
	Transcribe(ctx context.Context, pcm []byte, language string) ([]Segment, error)

	// Close releases model resources. After Close, Transcribe returns errors.
	Close() error
}
