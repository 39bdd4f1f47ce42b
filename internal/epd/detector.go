// Package epd implements endpoint detection: deciding where utterances begin
// and end in a growing PCM stream.
//
// The detector slides a fixed-duration frame window over the buffered audio,
// classifies each frame as speech or silence, and emits an utterance when
// enough trailing silence accumulates or when an utterance outgrows the
// maximum length and must be cut mid-stream. Frame classification is
// delegated to a [vad.Classifier]; the detector owns only the boundary state
// machine.
package epd

import (
	"fmt"

	"github.com/yc7764/whisperstream/pkg/provider/vad"
)

// Boundary constants. Together with the 30 ms default frame they put the
// utterance-close threshold at roughly 480 ms of trailing silence.
const (
	// MaxUtteranceSec cuts an in-progress utterance that has grown too long;
	// the next speech frame re-opens a fresh one.
	MaxUtteranceSec = 10.0

	// SilenceCloseFrames is the number of consecutive silent frames beyond
	// which an open utterance is closed.
	SilenceCloseFrames = 16
)

// State is the detector's position in the utterance lifecycle.
type State int

const (
	// StateIdle: outside any utterance.
	StateIdle State = iota
	// StateInSpeech: inside an open utterance.
	StateInSpeech
	// StateJustClosed: an utterance was closed on the current frame.
	StateJustClosed
)

// Utterance is one detected speech region, ready for transcription.
type Utterance struct {
	// PCM is the region of the session buffer covering the utterance,
	// 16-bit little-endian mono.
	PCM []byte

	// StartSec and EndSec locate the utterance on the session timeline.
	StartSec float64
	EndSec   float64
}

// Detector is the per-session endpoint state machine. Not safe for
// concurrent use; each recognition worker owns exactly one.
type Detector struct {
	classifier vad.Classifier
	frameSize  int
	frameSec   float64

	pcm        []byte
	vadIndex   int
	triggered  bool
	epdStart   int
	silenceCnt int
	state      State
}

// New returns a Detector classifying frames of frameSize bytes
// (frameDurationMs long) with the given classifier.
func New(classifier vad.Classifier, frameSize, frameDurationMs int) *Detector {
	return &Detector{
		classifier: classifier,
		frameSize:  frameSize,
		frameSec:   float64(frameDurationMs) / 1000.0,
	}
}

// Bytes returns the full PCM buffered since the last Reset. The recorder
// uses this to dump the session audio; callers must not modify it.
func (d *Detector) Bytes() []byte { return d.pcm }

// State returns the current lifecycle state.
func (d *Detector) State() State { return d.state }

// Reset clears all per-session state so the detector can serve the next
// session on the same worker.
func (d *Detector) Reset() {
	d.pcm = nil
	d.vadIndex = 0
	d.triggered = false
	d.epdStart = 0
	d.silenceCnt = 0
	d.state = StateIdle
}

// Push appends chunk to the session buffer and advances the state machine
// over every newly complete frame, calling emit for each utterance that
// closes. A classifier failure aborts the scan and is returned to the caller.
func (d *Detector) Push(chunk []byte, emit func(Utterance)) error {
	d.pcm = append(d.pcm, chunk...)

	for d.vadIndex+d.frameSize <= len(d.pcm) {
		frame := d.pcm[d.vadIndex : d.vadIndex+d.frameSize]
		frameStart := d.secondsAt(d.vadIndex)

		speech, err := d.classifier.IsSpeech(frame)
		if err != nil {
			return fmt.Errorf("epd: classify frame at %.1fs: %w", frameStart, err)
		}

		if speech {
			if !d.triggered {
				d.triggered = true
				d.state = StateInSpeech
				d.epdStart = d.vadIndex
				d.silenceCnt = 0
			} else {
				d.state = StateInSpeech
				// Cut utterances that outgrow the maximum length; the next
				// speech frame opens a fresh one.
				if frameStart+d.frameSec-d.secondsAt(d.epdStart) > MaxUtteranceSec {
					d.flush(emit, frameStart)
					d.triggered = false
					d.silenceCnt = 0
					d.state = StateIdle
				}
			}
		} else {
			d.silenceCnt++
			if d.triggered {
				if d.silenceCnt > SilenceCloseFrames {
					d.state = StateJustClosed
					d.triggered = false
					d.flush(emit, frameStart)
					d.silenceCnt = 0
				} else {
					d.state = StateInSpeech
				}
			} else {
				d.state = StateIdle
			}
		}

		d.vadIndex += d.frameSize
		if d.state == StateJustClosed {
			d.state = StateIdle
		}
	}
	return nil
}

// Finish flushes the open utterance, if any, when the client signals end of
// audio. The region runs from the utterance start to the end of the buffer.
func (d *Detector) Finish(emit func(Utterance)) {
	if !d.triggered {
		return
	}
	end := d.secondsAt(len(d.pcm))
	emit(Utterance{
		PCM:      d.pcm[d.epdStart:],
		StartSec: d.secondsAt(d.epdStart),
		EndSec:   end + d.frameSec,
	})
	d.triggered = false
	d.silenceCnt = 0
	d.state = StateIdle
}

// flush emits the region from the utterance start through the current frame.
// The historic region end is one byte past the current frame, clamped to the
// buffer.
func (d *Detector) flush(emit func(Utterance), frameStart float64) {
	end := min(d.vadIndex+d.frameSize+1, len(d.pcm))
	emit(Utterance{
		PCM:      d.pcm[d.epdStart:end],
		StartSec: d.secondsAt(d.epdStart),
		EndSec:   frameStart + d.frameSec,
	})
}

// secondsAt converts a byte offset to its frame-grid time in seconds.
func (d *Detector) secondsAt(offset int) float64 {
	return float64(offset/d.frameSize) * d.frameSec
}
