package config_test

import (
	"strings"
	"testing"

	"github.com/yc7764/whisperstream/internal/config"
)

const validYAML = `
audio:
  frame_size: 960
  sample_rate: 16000
  frame_duration_ms: 30
vad:
  mode: 1
model:
  path: models/ggml-base.bin
  size: base
  device: cpu
  language: ko
  channel: 2
network:
  ip: 0.0.0.0
  port: 5000
  socket_timeout: 60
logging:
  log_path: logs/server.log
  level: info
  save_pcm: true
  pcm_path: pcm_files
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Model.Channel != 2 {
		t.Errorf("channel = %d, want 2", cfg.Model.Channel)
	}
	if cfg.Audio.FrameSize != 960 {
		t.Errorf("frame_size = %d, want 960", cfg.Audio.FrameSize)
	}
	if !cfg.Logging.SavePCM {
		t.Error("save_pcm should be true")
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("model:\n  path: m.bin\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample_rate default = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameSize != 960 {
		t.Errorf("frame_size default = %d, want 960 (16 kHz × 30 ms × 2 B)", cfg.Audio.FrameSize)
	}
	if cfg.Network.Port != 5000 {
		t.Errorf("port default = %d, want 5000", cfg.Network.Port)
	}
	if cfg.Network.SocketTimeout != 60 {
		t.Errorf("socket_timeout default = %d, want 60", cfg.Network.SocketTimeout)
	}
	if cfg.Model.Channel != 1 {
		t.Errorf("channel default = %d, want 1", cfg.Model.Channel)
	}
	if cfg.Logging.Level != config.LogInfo {
		t.Errorf("level default = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFromReader_FrameSizeMismatch(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  frame_size: 480
  sample_rate: 16000
  frame_duration_ms: 30
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for frame_size mismatch, got nil")
	}
	if !strings.Contains(err.Error(), "frame_size") {
		t.Errorf("error should mention frame_size, got: %v", err)
	}
}

func TestLoadFromReader_InvalidValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "bad vad mode", yaml: "vad:\n  mode: 7\n", want: "vad.mode"},
		{name: "bad device", yaml: "model:\n  device: tpu\n", want: "model.device"},
		{name: "bad level", yaml: "logging:\n  level: loud\n", want: "logging.level"},
		{name: "unknown key", yaml: "transport:\n  kind: websocket\n", want: "decode yaml"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}
