// Package mock provides test doubles for the vad package interfaces.
//
// Use Classifier with a scripted Pattern to drive the endpoint detector
// through known speech/silence sequences:
//
//	c := &mock.Classifier{Pattern: []bool{true, true, false}}
//	eng := &mock.Engine{Classifier: c}
package mock

import (
	"sync"

	"github.com/yc7764/whisperstream/pkg/provider/vad"
)

// Compile-time assertions.
var (
	_ vad.Engine     = (*Engine)(nil)
	_ vad.Classifier = (*Classifier)(nil)
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, a zero-value
	// Classifier (all frames silent) is returned.
	Classifier vad.Classifier

	// Err, if non-nil, is returned as the error from NewClassifier.
	Err error

	// Configs records the Config of every NewClassifier call in order.
	Configs []vad.Config
}

// NewClassifier records the call and returns Classifier, Err.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}

// Classifier is a mock implementation of vad.Classifier. Each IsSpeech call
// consumes the next entry of Pattern; once the pattern is exhausted, Default
// is returned for all further frames.
type Classifier struct {
	mu sync.Mutex

	// Pattern scripts the per-frame results in call order.
	Pattern []bool

	// Default is the result after Pattern runs out.
	Default bool

	// Err, if non-nil, is returned from every IsSpeech call.
	Err error

	// Frames records a copy of every frame passed to IsSpeech.
	Frames [][]byte

	// Closed reports whether Close has been called.
	Closed bool
}

// IsSpeech consumes the next scripted result.
func (c *Classifier) IsSpeech(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.Frames = append(c.Frames, cp)
	if c.Err != nil {
		return false, c.Err
	}
	if len(c.Pattern) == 0 {
		return c.Default, nil
	}
	next := c.Pattern[0]
	c.Pattern = c.Pattern[1:]
	return next, nil
}

// Close marks the mock closed.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// FrameCount returns the number of classified frames. Thread-safe.
func (c *Classifier) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}
