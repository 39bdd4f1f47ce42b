// Command whisperstreamd is the streaming speech recognition server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yc7764/whisperstream/internal/config"
	"github.com/yc7764/whisperstream/internal/engine"
	"github.com/yc7764/whisperstream/internal/logx"
	"github.com/yc7764/whisperstream/internal/observe"
	"github.com/yc7764/whisperstream/internal/record"
	"github.com/yc7764/whisperstream/internal/server"
	"github.com/yc7764/whisperstream/pkg/provider/stt"
	"github.com/yc7764/whisperstream/pkg/provider/stt/whisper"
	"github.com/yc7764/whisperstream/pkg/provider/vad"
	"github.com/yc7764/whisperstream/pkg/provider/vad/silero"
)

const logRetentionDays = 30

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config_vad.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "whisperstreamd: config file %q not found — copy configs/config_vad.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "whisperstreamd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// stderr always; when log_path is set, additionally the daily-rotated file
	// behind the non-blocking listener queue.
	level := logx.SlogLevel(cfg.Logging.Level)
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}
	if cfg.Logging.LogPath != "" {
		listener, err := logx.NewListener(cfg.Logging.LogPath, logRetentionDays)
		if err != nil {
			fmt.Fprintf(os.Stderr, "whisperstreamd: open log file: %v\n", err)
			return 1
		}
		defer listener.Close()
		handlers = append(handlers, slog.NewTextHandler(listener.Writer(), &slog.HandlerOptions{Level: level}))
	}
	logger := slog.New(logx.Tee(handlers...))
	slog.SetDefault(logger)

	slog.Info("whisperstreamd starting",
		"config", *configPath,
		"model", cfg.Model.Path,
		"model_size", cfg.Model.Size,
		"device", cfg.Model.Device,
		"language", cfg.Model.Language,
		"channel", cfg.Model.Channel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics (optional) ────────────────────────────────────────────────────
	if cfg.Network.MetricsAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "whisperstream"})
		if err != nil {
			slog.Error("failed to initialise metrics", "error", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}
	metrics := observe.DefaultMetrics()

	// ── VAD engine ────────────────────────────────────────────────────────────
	var vadEngine vad.Engine
	if cfg.VAD.ModelPath != "" {
		eng, err := silero.NewEngine(cfg.VAD.ModelPath)
		if err != nil {
			slog.Error("failed to load silero vad model", "path", cfg.VAD.ModelPath, "error", err)
			return 1
		}
		vadEngine = eng
	} else {
		slog.Warn("vad.model_path not set, falling back to the energy classifier")
		vadEngine = vad.EnergyEngine{}
	}
	vadCfg := vad.Config{
		SampleRate:      cfg.Audio.SampleRate,
		FrameSize:       cfg.Audio.FrameSize,
		FrameDurationMs: cfg.Audio.FrameDurationMs,
		Mode:            vad.Mode(cfg.VAD.Mode),
	}

	// ── PCM recorder ──────────────────────────────────────────────────────────
	var recorder record.Recorder = record.Discard{}
	if cfg.Logging.SavePCM {
		recorder, err = record.NewFileRecorder(cfg.Logging.PCMPath)
		if err != nil {
			slog.Error("failed to prepare pcm dump directory", "path", cfg.Logging.PCMPath, "error", err)
			return 1
		}
	}

	// ── Engine pool ───────────────────────────────────────────────────────────
	engines := engine.NewEngines(cfg.Model.Channel, cfg.Model.Language)
	pool := engine.NewPool(engines, metrics)
	workers := make([]*engine.Worker, len(engines))
	// The worker waits one second longer than the client socket, so a client
	// read-timeout always resolves on the handler side first.
	receiveTimeout := time.Duration(cfg.Network.SocketTimeout+1) * time.Second
	for i, e := range engines {
		workers[i] = engine.NewWorker(e, engine.WorkerConfig{
			FrameSize:       cfg.Audio.FrameSize,
			FrameDurationMs: cfg.Audio.FrameDurationMs,
			Language:        cfg.Model.Language,
			ReceiveTimeout:  receiveTimeout,
			NewTranscriber: func() (stt.Transcriber, error) {
				return whisper.New(cfg.Model.Path, whisper.WithLanguage(cfg.Model.Language))
			},
			NewClassifier: func() (vad.Classifier, error) { return vadEngine.NewClassifier(vadCfg) },
			Recorder:      recorder,
			Metrics:       metrics,
			Logger:        logger,
		})
	}
	pool.Start(ctx, workers)

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := server.New(cfg, pool, metrics, logger)
	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	pool.Wait()
	slog.Info("goodbye")
	return 0
}
