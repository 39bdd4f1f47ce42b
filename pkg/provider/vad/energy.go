package vad

import (
	"fmt"

	"github.com/yc7764/whisperstream/pkg/audio"
)

// Compile-time assertions.
var (
	_ Engine     = EnergyEngine{}
	_ Classifier = (*energyClassifier)(nil)
)

// energyThresholds maps Mode to the minimum RMS amplitude (int16 scale) a
// frame must reach to count as speech. Higher modes demand louder input.
var energyThresholds = [4]float64{250, 500, 900, 1500}

// EnergyEngine produces model-free classifiers that threshold frame RMS
// amplitude. It is the fallback when no Silero model file is configured and
// the default in tests; real deployments should prefer the silero package.
type EnergyEngine struct{}

// NewClassifier validates cfg and returns an RMS-threshold classifier.
func (EnergyEngine) NewClassifier(cfg Config) (Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &energyClassifier{cfg: cfg, threshold: energyThresholds[cfg.Mode]}, nil
}

type energyClassifier struct {
	cfg       Config
	threshold float64
}

func (c *energyClassifier) IsSpeech(frame []byte) (bool, error) {
	if len(frame) != c.cfg.FrameSize {
		return false, fmt.Errorf("vad: frame is %d bytes, want %d", len(frame), c.cfg.FrameSize)
	}
	return audio.RMS(frame) >= c.threshold, nil
}

func (c *energyClassifier) Close() error { return nil }
