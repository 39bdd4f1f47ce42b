// Package vad defines the Classifier interface for frame-level voice
// activity detection.
//
// A Classifier answers one question: does this fixed-duration PCM frame
// contain speech? The endpoint detector calls it once per frame, in stream
// order, and builds utterance boundaries from the answers.
//
// Classifiers may keep internal smoothing state across calls, so a single
// Classifier must not be shared between audio streams. Each recognition
// worker constructs its own via [Engine.NewClassifier].
package vad

import "fmt"

// Mode is the classifier aggressiveness, 0 (least aggressive, most frames
// classified as speech) through 3 (most aggressive). The mapping to internal
// thresholds is backend-specific.
type Mode int

// IsValid reports whether m is a recognised aggressiveness mode.
func (m Mode) IsValid() bool { return m >= 0 && m <= 3 }

// Config holds the parameters for a new Classifier.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// IsSpeech. Common value: 16000.
	SampleRate int

	// FrameSize is the size in bytes of each frame passed to IsSpeech
	// (= SampleRate * FrameDurationMs / 1000 * 2 for 16-bit mono).
	FrameSize int

	// FrameDurationMs is the duration of each frame in milliseconds.
	FrameDurationMs int

	// Mode is the aggressiveness setting.
	Mode Mode
}

// Validate checks that cfg is internally consistent.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate %d must be positive", c.SampleRate)
	}
	if c.FrameDurationMs <= 0 {
		return fmt.Errorf("vad: frame duration %d ms must be positive", c.FrameDurationMs)
	}
	if want := c.SampleRate * c.FrameDurationMs / 1000 * 2; c.FrameSize != want {
		return fmt.Errorf("vad: frame size %d does not match %d Hz × %d ms (want %d)",
			c.FrameSize, c.SampleRate, c.FrameDurationMs, want)
	}
	if !c.Mode.IsValid() {
		return fmt.Errorf("vad: mode %d out of range [0, 3]", c.Mode)
	}
	return nil
}

// Classifier decides per frame whether speech is present.
type Classifier interface {
	// IsSpeech classifies one frame of exactly Config.FrameSize bytes of
	// 16-bit little-endian mono PCM. It is called synchronously from the
	// recognition loop and must not block.
	IsSpeech(frame []byte) (bool, error)

	// Close releases classifier resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for classifiers, one per recognition worker.
//
// Implementations must be safe for concurrent use: multiple workers may call
// NewClassifier simultaneously.
type Engine interface {
	// NewClassifier creates a classifier with the given configuration.
	// Returns an error if the configuration is invalid or backend resources
	// cannot be allocated.
	NewClassifier(cfg Config) (Classifier, error)
}
