package epd_test

import (
	"errors"
	"testing"

	"github.com/yc7764/whisperstream/internal/epd"
	vadmock "github.com/yc7764/whisperstream/pkg/provider/vad/mock"
)

const (
	frameSize  = 4
	frameDurMs = 30
	frameSec   = 0.030
)

// pattern builds a classification script of k speech frames followed by m
// silence frames.
func pattern(k, m int) []bool {
	p := make([]bool, 0, k+m)
	for i := 0; i < k; i++ {
		p = append(p, true)
	}
	for i := 0; i < m; i++ {
		p = append(p, false)
	}
	return p
}

func collect(utts *[]epd.Utterance) func(epd.Utterance) {
	return func(u epd.Utterance) { *utts = append(*utts, u) }
}

func TestPush_FramesAreExactAndMonotonic(t *testing.T) {
	t.Parallel()
	c := &vadmock.Classifier{}
	d := epd.New(c, frameSize, frameDurMs)

	// Push in ragged chunks that never align with the frame size.
	var utts []epd.Utterance
	for _, n := range []int{1, 3, 5, 7, 2, 6} {
		if err := d.Push(make([]byte, n), collect(&utts)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	// 24 bytes total → exactly 6 complete frames classified.
	if got := c.FrameCount(); got != 6 {
		t.Fatalf("classified %d frames, want 6", got)
	}
	for i, f := range c.Frames {
		if len(f) != frameSize {
			t.Errorf("frame %d is %d bytes, want %d", i, len(f), frameSize)
		}
	}
}

func TestPush_SpeechThenSilenceEmitsOneUtterance(t *testing.T) {
	t.Parallel()
	const k = 10
	c := &vadmock.Classifier{Pattern: pattern(k, 100)}
	d := epd.New(c, frameSize, frameDurMs)

	var utts []epd.Utterance
	if err := d.Push(make([]byte, 40*frameSize), collect(&utts)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1", len(utts))
	}
	u := utts[0]
	if u.StartSec != 0 {
		t.Errorf("StartSec = %f, want 0", u.StartSec)
	}
	// The close happens on the 17th trailing silence frame (index k+16).
	wantEnd := float64(k+16)*frameSec + frameSec
	if diff := u.EndSec - wantEnd; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("EndSec = %f, want %f", u.EndSec, wantEnd)
	}
	if len(u.PCM) == 0 || len(u.PCM) > 40*frameSize {
		t.Errorf("utterance PCM is %d bytes", len(u.PCM))
	}
}

func TestPush_AllSilenceEmitsNothing(t *testing.T) {
	t.Parallel()
	c := &vadmock.Classifier{} // zero value: every frame silent
	d := epd.New(c, frameSize, frameDurMs)

	var utts []epd.Utterance
	if err := d.Push(make([]byte, 100*frameSize), collect(&utts)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(utts) != 0 {
		t.Fatalf("got %d utterances from pure silence, want 0", len(utts))
	}
	if d.State() != epd.StateIdle {
		t.Errorf("state = %v, want idle", d.State())
	}
}

func TestPush_ShortSilenceGapDoesNotSplit(t *testing.T) {
	t.Parallel()
	// Speech, a sub-threshold gap, speech again, then a real close.
	script := append(pattern(5, 10), pattern(5, 100)...)
	c := &vadmock.Classifier{Pattern: script}
	d := epd.New(c, frameSize, frameDurMs)

	var utts []epd.Utterance
	if err := d.Push(make([]byte, 60*frameSize), collect(&utts)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(utts) != 1 {
		t.Fatalf("got %d utterances, want 1 (10-frame gap is below the close threshold)", len(utts))
	}
}

func TestPush_TooLongUtteranceIsCut(t *testing.T) {
	t.Parallel()
	// 12 s of uninterrupted speech at 30 ms frames.
	const frames = 400
	c := &vadmock.Classifier{Pattern: pattern(frames, 0), Default: true}
	d := epd.New(c, frameSize, frameDurMs)

	var utts []epd.Utterance
	if err := d.Push(make([]byte, frames*frameSize), collect(&utts)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	d.Finish(collect(&utts))

	if len(utts) != 2 {
		t.Fatalf("got %d utterances from 12s of speech, want 2", len(utts))
	}
	if utts[0].StartSec != 0 {
		t.Errorf("first StartSec = %f, want 0", utts[0].StartSec)
	}
	// The cut lands on the first frame whose end crosses the 10 s ceiling.
	if utts[0].EndSec < 10.0 || utts[0].EndSec > 10.1 {
		t.Errorf("first EndSec = %f, want ≈10.0", utts[0].EndSec)
	}
	// The second utterance continues where the first was cut and runs to the
	// end of the stream.
	if utts[1].StartSec <= utts[0].StartSec || utts[1].StartSec > utts[0].EndSec {
		t.Errorf("second StartSec = %f does not follow the cut at %f", utts[1].StartSec, utts[0].EndSec)
	}
	if utts[1].EndSec < 12.0 {
		t.Errorf("second EndSec = %f, want ≥12.0", utts[1].EndSec)
	}
}

func TestFinish_FlushesOpenUtterance(t *testing.T) {
	t.Parallel()
	c := &vadmock.Classifier{Default: true}
	d := epd.New(c, frameSize, frameDurMs)

	var utts []epd.Utterance
	if err := d.Push(make([]byte, 5*frameSize), collect(&utts)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(utts) != 0 {
		t.Fatalf("utterance closed before finish: %d", len(utts))
	}

	d.Finish(collect(&utts))
	if len(utts) != 1 {
		t.Fatalf("got %d utterances after finish, want 1", len(utts))
	}
	if got := len(utts[0].PCM); got != 5*frameSize {
		t.Errorf("utterance PCM = %d bytes, want %d", got, 5*frameSize)
	}

	// A second finish is a no-op.
	d.Finish(collect(&utts))
	if len(utts) != 1 {
		t.Fatalf("second finish emitted an utterance")
	}
}

func TestFinish_SilentSessionEmitsNothing(t *testing.T) {
	t.Parallel()
	c := &vadmock.Classifier{}
	d := epd.New(c, frameSize, frameDurMs)

	var utts []epd.Utterance
	if err := d.Push(make([]byte, 20*frameSize), collect(&utts)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	d.Finish(collect(&utts))
	if len(utts) != 0 {
		t.Fatalf("got %d utterances, want 0", len(utts))
	}
}

func TestReset_ClearsSessionState(t *testing.T) {
	t.Parallel()
	c := &vadmock.Classifier{Default: true}
	d := epd.New(c, frameSize, frameDurMs)

	var utts []epd.Utterance
	if err := d.Push(make([]byte, 10*frameSize), collect(&utts)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	d.Reset()

	if len(d.Bytes()) != 0 {
		t.Errorf("buffer not cleared by Reset: %d bytes", len(d.Bytes()))
	}
	if d.State() != epd.StateIdle {
		t.Errorf("state = %v after Reset, want idle", d.State())
	}
	// No utterance from the old session may leak into the new one.
	d.Finish(collect(&utts))
	if len(utts) != 0 {
		t.Fatalf("utterance leaked across Reset")
	}
}

func TestPush_ClassifierErrorPropagates(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("onnx runtime unavailable")
	c := &vadmock.Classifier{Err: wantErr}
	d := epd.New(c, frameSize, frameDurMs)

	err := d.Push(make([]byte, frameSize), func(epd.Utterance) {})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped classifier error", err)
	}
}
