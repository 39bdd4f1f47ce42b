package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/yc7764/whisperstream/internal/engine"
	"github.com/yc7764/whisperstream/internal/protocol"
	"github.com/yc7764/whisperstream/pkg/provider/stt"
	sttmock "github.com/yc7764/whisperstream/pkg/provider/stt/mock"
	"github.com/yc7764/whisperstream/pkg/provider/vad"
	vadmock "github.com/yc7764/whisperstream/pkg/provider/vad/mock"
)

// startPool builds a pool of n slots whose workers initialize instantly
// from fresh mocks, and stops it when the test finishes.
func startPool(t *testing.T, n int) *engine.Pool {
	t.Helper()
	engines := engine.NewEngines(n, "en")
	pool := engine.NewPool(engines, newTestMetrics(t))

	workers := make([]*engine.Worker, n)
	for i, e := range engines {
		workers[i] = engine.NewWorker(e, engine.WorkerConfig{
			FrameSize:       frameSize,
			FrameDurationMs: frameDurMs,
			Language:        "en",
			ReceiveTimeout:  time.Minute,
			NewTranscriber:  func() (stt.Transcriber, error) { return &sttmock.Transcriber{}, nil },
			NewClassifier:   func() (vad.Classifier, error) { return &vadmock.Classifier{}, nil },
			Metrics:         newTestMetrics(t),
			Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, workers)
	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})
	return pool
}

func allocate(t *testing.T, pool *engine.Pool) *engine.Engine {
	t.Helper()
	e, err := pool.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return e
}

// allocateShouldFail asserts that Allocate errors within the deadline.
func allocateShouldFail(t *testing.T, pool *engine.Pool, deadline time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	e, err := pool.Allocate(ctx)
	if err == nil {
		t.Fatalf("Allocate unexpectedly succeeded with engine %s", e.Name)
	}
	return err
}

func TestPool_NeverOverAllocates(t *testing.T) {
	t.Parallel()
	pool := startPool(t, 2)

	a := allocate(t, pool)
	b := allocate(t, pool)
	if a.ID == b.ID {
		t.Fatalf("both allocations returned slot %d", a.ID)
	}

	// With every slot taken a third caller must wait, not steal.
	err := allocateShouldFail(t, pool, 100*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	pool.Release(a)
	c := allocate(t, pool)
	if c.ID != a.ID {
		t.Fatalf("reallocation returned slot %d, want freed slot %d", c.ID, a.ID)
	}
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	pool := startPool(t, 1)

	e := allocate(t, pool)
	pool.Release(e)
	pool.Release(e) // must not create a second idle token

	allocate(t, pool)
	allocateShouldFail(t, pool, 100*time.Millisecond)
}

func TestPool_StatusTracksBusyFlags(t *testing.T) {
	t.Parallel()
	pool := startPool(t, 2)

	a := allocate(t, pool)
	b := allocate(t, pool)
	for i, busy := range pool.Status() {
		if !busy {
			t.Errorf("slot %d reported idle while allocated", i)
		}
	}

	pool.Release(a)
	if pool.Status()[a.ID] {
		t.Errorf("slot %d still busy after release", a.ID)
	}
	if !pool.Status()[b.ID] {
		t.Errorf("slot %d went idle without release", b.ID)
	}
}

func TestPool_AllocateHonorsContext(t *testing.T) {
	t.Parallel()
	// No workers started: every slot stays busy forever.
	pool := engine.NewPool(engine.NewEngines(1, "en"), newTestMetrics(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Allocate(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestPool_FailedWorkerShrinksPool(t *testing.T) {
	t.Parallel()
	engines := engine.NewEngines(1, "en")
	pool := engine.NewPool(engines, newTestMetrics(t))
	w := engine.NewWorker(engines[0], engine.WorkerConfig{
		FrameSize:       frameSize,
		FrameDurationMs: frameDurMs,
		ReceiveTimeout:  time.Minute,
		NewTranscriber: func() (stt.Transcriber, error) {
			return nil, errors.New("no such model")
		},
		NewClassifier: func() (vad.Classifier, error) { return &vadmock.Classifier{}, nil },
		Metrics:       newTestMetrics(t),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, []*engine.Worker{w})
	pool.Wait() // the failed worker exits immediately

	allocateShouldFail(t, pool, 100*time.Millisecond)
	if !pool.Status()[0] {
		t.Fatal("failed slot reported idle")
	}
}

func TestEngine_DrainEmptiesBothQueues(t *testing.T) {
	t.Parallel()
	e := engine.NewEngines(1, "en")[0]
	e.In <- engine.Message{Code: protocol.CodeSpeech, Payload: []byte{1}}
	e.In <- engine.Message{Code: protocol.CodeFinish}
	e.Out <- engine.Message{Code: protocol.CodeResult, Payload: []byte("stale")}

	e.Drain()

	select {
	case msg := <-e.In:
		t.Fatalf("in-queue still holds %s", msg.Code)
	default:
	}
	select {
	case msg := <-e.Out:
		t.Fatalf("out-queue still holds %s", msg.Code)
	default:
	}
}
