// Package mock provides an in-memory test double for [stt.Transcriber].
//
// The mock records every Transcribe call and returns configurable results.
// It is safe for concurrent use.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Segments: []stt.Segment{{Text: "hello world"}},
//	}
//	segs, err := tr.Transcribe(ctx, pcm, "en")
package mock

import (
	"context"
	"sync"

	"github.com/yc7764/whisperstream/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records the arguments of a single Transcribe call.
type TranscribeCall struct {
	// PCM is a copy of the audio buffer passed to Transcribe.
	PCM []byte
	// Language is the language code passed to Transcribe.
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Segments is returned from every Transcribe call unless TranscribeFunc
	// is set.
	Segments []stt.Segment

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if non-nil, overrides Segments/Err entirely.
	TranscribeFunc func(pcm []byte, language string) ([]stt.Segment, error)

	// Calls records every Transcribe invocation in order.
	Calls []TranscribeCall

	// Closed reports whether Close has been called.
	Closed bool
}

// Transcribe records the call and returns the configured result.
func (t *Transcriber) Transcribe(_ context.Context, pcm []byte, language string) ([]stt.Segment, error) {
	t.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	t.Calls = append(t.Calls, TranscribeCall{PCM: cp, Language: language})
	fn := t.TranscribeFunc
	segs, err := t.Segments, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(pcm, language)
	}
	return segs, err
}

// Close marks the mock closed.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
