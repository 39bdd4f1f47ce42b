package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yc7764/whisperstream/internal/epd"
	"github.com/yc7764/whisperstream/internal/observe"
	"github.com/yc7764/whisperstream/internal/protocol"
	"github.com/yc7764/whisperstream/internal/record"
	"github.com/yc7764/whisperstream/pkg/provider/stt"
	"github.com/yc7764/whisperstream/pkg/provider/vad"
)

// WorkerConfig carries everything a worker needs to serve sessions. The
// transcriber and classifier are built by the worker itself, on its own
// goroutine, because model load can take seconds and must not block startup
// of the other slots.
type WorkerConfig struct {
	// FrameSize and FrameDurationMs parameterize endpoint detection.
	FrameSize       int
	FrameDurationMs int

	// Language is passed to every Transcribe call and shown in the engine
	// name.
	Language string

	// ReceiveTimeout bounds each in-queue wait during a session. It is the
	// client socket timeout plus one second, so the worker always outlives a
	// client read-timeout and sees the handler's teardown messages.
	ReceiveTimeout time.Duration

	// NewTranscriber and NewClassifier construct the models this slot owns.
	NewTranscriber func() (stt.Transcriber, error)
	NewClassifier  func() (vad.Classifier, error)

	// Recorder receives the session PCM on session end. Nil means discard.
	Recorder record.Recorder

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Worker is the recognition loop behind one engine slot. It consumes the
// engine's In queue, runs endpoint detection and transcription, and puts
// results on Out. One session at a time, forever.
type Worker struct {
	engine *Engine
	cfg    WorkerConfig
	log    *slog.Logger
}

// NewWorker binds a worker to its engine slot.
func NewWorker(e *Engine, cfg WorkerConfig) *Worker {
	if cfg.Recorder == nil {
		cfg.Recorder = record.Discard{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		engine: e,
		cfg:    cfg,
		log:    cfg.Logger.With("engine", e.Name),
	}
}

// Run loads the models, signals readiness, and serves sessions until ctx
// ends. If either model fails to load the worker logs and returns without
// calling ready, leaving the slot permanently busy.
func (w *Worker) Run(ctx context.Context, ready func()) {
	tr, err := w.cfg.NewTranscriber()
	if err != nil {
		w.log.Error("transcriber init failed, slot stays out of rotation", "error", err)
		return
	}
	defer tr.Close()

	cl, err := w.cfg.NewClassifier()
	if err != nil {
		w.log.Error("vad init failed, slot stays out of rotation", "error", err)
		return
	}
	defer cl.Close()

	det := epd.New(cl, w.cfg.FrameSize, w.cfg.FrameDurationMs)
	w.log.Info("engine ready")
	ready()

	for {
		username, ok := w.waitBegin(ctx)
		if !ok {
			return
		}
		w.runSession(ctx, det, tr, username)
	}
}

// waitBegin blocks until a session-start token arrives. Anything that is
// not %b is stale traffic from a previous session and is discarded.
func (w *Worker) waitBegin(ctx context.Context) (string, bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case msg := <-w.engine.In:
			if msg.Code == protocol.CodeBegin {
				return string(msg.Payload), true
			}
			w.log.Debug("discarding message outside session", "code", msg.Code.String())
		}
	}
}

// runSession serves one client session: speech chunks feed the endpoint
// detector, each closed utterance is transcribed and answered with a %R,
// and a %f triggers the final flush. Whatever ends the session, the %F
// terminator goes out and the session audio is handed to the recorder.
func (w *Worker) runSession(ctx context.Context, det *epd.Detector, tr stt.Transcriber, username string) {
	log := w.log.With("user", username)
	log.Info("session started")
	det.Reset()

	defer func() {
		w.engine.send(Message{Code: protocol.CodeFinal})
		w.savePCM(log, username, det.Bytes())
		log.Info("session finished", "audio_bytes", len(det.Bytes()))
	}()

	emit := func(u epd.Utterance) { w.transcribe(ctx, tr, log, u) }

	timer := time.NewTimer(w.cfg.ReceiveTimeout)
	defer timer.Stop()
	for {
		timer.Reset(w.cfg.ReceiveTimeout)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			log.Warn("no traffic from session handler, abandoning session")
			return
		case msg := <-w.engine.In:
			switch msg.Code {
			case protocol.CodeSpeech:
				if err := det.Push(msg.Payload, emit); err != nil {
					log.Error("endpoint detection failed", "error", err)
					w.engine.send(Message{
						Code:    protocol.CodeError,
						Payload: fmt.Appendf(nil, "epd:%v", err),
					})
					return
				}
			case protocol.CodeFinish:
				det.Finish(emit)
				return
			default:
				log.Warn("illegal packet in session", "code", msg.Code.String())
				w.cfg.Metrics.ProtocolErrors.Add(ctx, 1)
				return
			}
		}
	}
}

// transcribe runs the model over one utterance and queues the result frame.
// Model failures are reported in-session as %E and do not end the session.
func (w *Worker) transcribe(ctx context.Context, tr stt.Transcriber, log *slog.Logger, u epd.Utterance) {
	start := time.Now()
	segs, err := tr.Transcribe(ctx, u.PCM, w.cfg.Language)
	w.cfg.Metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		log.Error("transcription failed", "error", err, "start", u.StartSec, "end", u.EndSec)
		w.cfg.Metrics.TranscribeErrors.Add(ctx, 1)
		w.engine.send(Message{
			Code:    protocol.CodeError,
			Payload: fmt.Appendf(nil, "transcribe:%v", err),
		})
		return
	}

	text := joinSegments(segs)
	if text == "" {
		log.Debug("utterance produced no text", "start", u.StartSec, "end", u.EndSec)
		return
	}
	log.Info("recognition result", "start", u.StartSec, "end", u.EndSec, "text", text)
	w.engine.send(Message{
		Code:    protocol.CodeResult,
		Payload: fmt.Appendf(nil, "%3.1f %3.1f : %s", u.StartSec, u.EndSec, text),
	})
	w.cfg.Metrics.Utterances.Add(ctx, 1)
}

func (w *Worker) savePCM(log *slog.Logger, username string, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	path, err := w.cfg.Recorder.Save(username, pcm)
	if err != nil {
		log.Warn("pcm dump failed", "error", err)
		return
	}
	if path != "" {
		log.Info("session pcm saved", "path", path, "bytes", len(pcm))
	}
}

// joinSegments concatenates the non-empty segment texts with single spaces.
func joinSegments(segs []stt.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
