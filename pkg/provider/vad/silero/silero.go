// Package silero implements the vad.Classifier interface using the Silero
// VAD ONNX model via silero-vad-go. The onnxruntime shared library must be
// available at run time.
//
// Silero operates on 512-sample windows at 16 kHz and keeps recurrent state
// inside the detector, so the classifier buffers incoming frames and refreshes
// its speech/non-speech belief once per completed batch. Between refreshes,
// IsSpeech returns the most recent belief — at 30 ms frames this adds at most
// two frames of decision latency, well inside the endpoint detector's 480 ms
// close threshold.
package silero

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/yc7764/whisperstream/pkg/audio"
	"github.com/yc7764/whisperstream/pkg/provider/vad"
)

// Compile-time assertions.
var (
	_ vad.Engine     = (*Engine)(nil)
	_ vad.Classifier = (*classifier)(nil)
)

// windowSamples is the Silero model's native analysis window at 16 kHz.
const windowSamples = 512

// modeThresholds maps the classifier aggressiveness mode to the Silero
// speech-probability threshold.
var modeThresholds = [4]float32{0.30, 0.45, 0.60, 0.75}

// Engine creates Silero-backed classifiers sharing one model path.
type Engine struct {
	modelPath string
}

// NewEngine returns an Engine that loads the ONNX model at modelPath for
// every classifier it creates. Each classifier owns its own detector so that
// concurrent workers never share recurrent model state.
func NewEngine(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero: model path must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewClassifier creates a detector instance and wraps it as a vad.Classifier.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: sample rate %d not supported, model requires 16000", cfg.SampleRate)
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            modeThresholds[cfg.Mode],
		MinSilenceDurationMs: cfg.FrameDurationMs,
		SpeechPadMs:          cfg.FrameDurationMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	return &classifier{
		cfg:      cfg,
		detector: detector,
		// Two model windows per batch keeps Detect's internal windowing fed.
		batchSamples: 2 * windowSamples,
	}, nil
}

type classifier struct {
	mu           sync.Mutex
	cfg          vad.Config
	detector     *speech.Detector
	pending      []float32
	batchSamples int
	inSpeech     bool
	closed       bool
}

// IsSpeech buffers the frame and, once a full batch is available, runs the
// detector over it. The returned value is the belief after the most recently
// completed batch.
func (c *classifier) IsSpeech(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, fmt.Errorf("silero: classifier is closed")
	}
	if len(frame) != c.cfg.FrameSize {
		return false, fmt.Errorf("silero: frame is %d bytes, want %d", len(frame), c.cfg.FrameSize)
	}

	c.pending = append(c.pending, audio.PCMToFloat32(frame)...)
	for len(c.pending) >= c.batchSamples {
		batch := c.pending[:c.batchSamples]
		c.pending = c.pending[c.batchSamples:]

		segments, err := c.detector.Detect(batch)
		if err != nil {
			return false, fmt.Errorf("silero: detect: %w", err)
		}
		// A segment with no end time means speech is still open at the end
		// of the batch.
		for _, seg := range segments {
			c.inSpeech = seg.SpeechEndAt == 0
		}
		if len(segments) > 0 && segments[len(segments)-1].SpeechEndAt != 0 {
			c.inSpeech = false
		}
	}
	return c.inSpeech, nil
}

// Close destroys the underlying detector.
func (c *classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.detector.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}
