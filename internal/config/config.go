// Package config provides the configuration schema and loader for the
// whisperstream server. All knobs are read from a single YAML file
// (config_vad.yaml by convention) at startup; the server holds no other
// persistent state.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarn    LogLevel = "warn"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogWarning, LogError:
		return true
	}
	return false
}

// Device selects where model inference runs.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// IsValid reports whether d is a recognised device.
func (d Device) IsValid() bool { return d == DeviceCPU || d == DeviceCUDA }

// Config is the root configuration structure.
type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	VAD     VADConfig     `yaml:"vad"`
	Model   ModelConfig   `yaml:"model"`
	Network NetworkConfig `yaml:"network"`
	Logging LoggingConfig `yaml:"logging"`
}

// AudioConfig describes the PCM format of the incoming stream and the VAD
// frame granularity derived from it.
type AudioConfig struct {
	// FrameSize is the VAD frame size in bytes. Must equal
	// SampleRate * FrameDurationMs / 1000 * 2 (16-bit mono).
	FrameSize int `yaml:"frame_size"`

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameDurationMs is the VAD frame duration in milliseconds.
	FrameDurationMs int `yaml:"frame_duration_ms"`
}

// VADConfig configures the frame classifier.
type VADConfig struct {
	// Mode is the classifier aggressiveness, 0 (permissive) through 3 (strict).
	Mode int `yaml:"mode"`

	// ModelPath is the Silero VAD ONNX model file. Empty selects the
	// model-free energy classifier.
	ModelPath string `yaml:"model_path"`
}

// ModelConfig configures the transcription model and the engine pool.
type ModelConfig struct {
	// Path is the ggml model file loaded by whisper.cpp.
	Path string `yaml:"path"`

	// Size is a human-readable model size label ("base", "small", …) used in
	// logs. It does not select the model; Path does.
	Size string `yaml:"size"`

	// Device selects cpu or cuda inference.
	Device Device `yaml:"device"`

	// Language is the recognition language code (e.g. "ko", "en").
	Language string `yaml:"language"`

	// Channel is the engine pool size: the number of recognition workers
	// loaded at startup.
	Channel int `yaml:"channel"`
}

// NetworkConfig holds listener settings.
type NetworkConfig struct {
	// IP is the address the TCP listener binds.
	IP string `yaml:"ip"`

	// Port is the TCP listener port.
	Port int `yaml:"port"`

	// SocketTimeout is the per-read client idle timeout in seconds.
	SocketTimeout int `yaml:"socket_timeout"`

	// MetricsAddr, when non-empty, serves Prometheus metrics on this address
	// (e.g. ":9090"). Empty disables the metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoggingConfig holds the text-log and PCM-dump settings.
type LoggingConfig struct {
	// LogPath is the log file path; daily rotated siblings are created next
	// to it.
	LogPath string `yaml:"log_path"`

	// Level controls verbosity.
	Level LogLevel `yaml:"level"`

	// SavePCM enables dumping each session's raw PCM to disk on session end.
	SavePCM bool `yaml:"save_pcm"`

	// PCMPath is the directory PCM dumps are written to.
	PCMPath string `yaml:"pcm_path"`
}
