package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied after decoding, matching the server's historic behaviour.
const (
	defaultSampleRate      = 16000
	defaultFrameDurationMs = 30
	defaultPort            = 5000
	defaultSocketTimeout   = 60
	defaultChannel         = 1
	defaultLanguage        = "ko"
	defaultPCMPath         = "pcm_files"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = defaultSampleRate
	}
	if cfg.Audio.FrameDurationMs == 0 {
		cfg.Audio.FrameDurationMs = defaultFrameDurationMs
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = cfg.Audio.SampleRate * cfg.Audio.FrameDurationMs / 1000 * 2
	}
	if cfg.Model.Device == "" {
		cfg.Model.Device = DeviceCPU
	}
	if cfg.Model.Language == "" {
		cfg.Model.Language = defaultLanguage
	}
	if cfg.Model.Channel == 0 {
		cfg.Model.Channel = defaultChannel
	}
	if cfg.Network.Port == 0 {
		cfg.Network.Port = defaultPort
	}
	if cfg.Network.SocketTimeout == 0 {
		cfg.Network.SocketTimeout = defaultSocketTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogInfo
	}
	if cfg.Logging.PCMPath == "" {
		cfg.Logging.PCMPath = defaultPCMPath
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d must be positive", cfg.Audio.FrameDurationMs))
	}
	if want := cfg.Audio.SampleRate * cfg.Audio.FrameDurationMs / 1000 * 2; cfg.Audio.FrameSize != want && want > 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d does not match sample_rate × frame_duration_ms (want %d)",
			cfg.Audio.FrameSize, want))
	}

	if cfg.VAD.Mode < 0 || cfg.VAD.Mode > 3 {
		errs = append(errs, fmt.Errorf("vad.mode %d out of range [0, 3]", cfg.VAD.Mode))
	}

	if !cfg.Model.Device.IsValid() {
		errs = append(errs, fmt.Errorf("model.device %q is invalid; valid values: cpu, cuda", cfg.Model.Device))
	}
	if cfg.Model.Channel <= 0 {
		errs = append(errs, fmt.Errorf("model.channel %d must be positive", cfg.Model.Channel))
	}

	if cfg.Network.Port <= 0 || cfg.Network.Port > 65535 {
		errs = append(errs, fmt.Errorf("network.port %d out of range", cfg.Network.Port))
	}
	if cfg.Network.SocketTimeout <= 0 {
		errs = append(errs, fmt.Errorf("network.socket_timeout %d must be positive", cfg.Network.SocketTimeout))
	}

	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, warning, error", cfg.Logging.Level))
	}
	if cfg.Logging.SavePCM && cfg.Logging.PCMPath == "" {
		errs = append(errs, errors.New("logging.pcm_path is required when logging.save_pcm is true"))
	}

	return errors.Join(errs...)
}
