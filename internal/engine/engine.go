// Package engine implements the recognition engine pool: a fixed set of
// long-lived workers, each owning one loaded model, matched to client
// sessions through per-engine message queues.
//
// A worker loads its Transcriber once at startup and keeps it across
// sessions; amortizing the model load is the whole point of the pool. The
// session handler talks to an engine exclusively through its In and Out
// channels, so the socket side and the inference side never share state.
package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/yc7764/whisperstream/internal/protocol"
)

// Queue capacities. In absorbs a burst of speech chunks while the model is
// busy; Out absorbs results while the socket writer catches up.
const (
	inQueueCap  = 256
	outQueueCap = 64
)

// Message is one unit of traffic between a session handler and a worker.
// Codes reuse the wire protocol tags: %b/%s/%f inbound, %R/%E/%F outbound.
type Message struct {
	Code    protocol.Code
	Payload []byte
}

// Engine is one pool slot: a stable identity plus the two queues connecting
// it to whichever session currently holds it.
type Engine struct {
	// ID is the slot index, stable for the process lifetime.
	ID int

	// Name is "<language>:<index>", used in logs and status lines.
	Name string

	// In carries client traffic to the worker.
	In chan Message

	// Out carries worker results back to the session handler.
	Out chan Message

	busy atomic.Bool
}

// newEngine returns an engine slot that starts busy; the worker marks it
// idle once its model has loaded.
func newEngine(id int, language string) *Engine {
	e := &Engine{
		ID:   id,
		Name: fmt.Sprintf("%s:%d", language, id),
		In:   make(chan Message, inQueueCap),
		Out:  make(chan Message, outQueueCap),
	}
	e.busy.Store(true)
	return e
}

// Busy reports whether the slot is currently allocated (or never became
// ready).
func (e *Engine) Busy() bool { return e.busy.Load() }

// Drain discards everything currently buffered on both queues without
// blocking. The session handler calls it before handing a freshly allocated
// engine to a new client and again during cleanup, so stale traffic from a
// dead session can never leak into the next one.
func (e *Engine) Drain() {
	drainQueue(e.In)
	drainQueue(e.Out)
}

func drainQueue(ch chan Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// send puts msg on Out, dropping it if the queue is full. A full Out means
// the client side stopped draining (hung up mid-session); blocking the
// worker on it would wedge the pool slot.
func (e *Engine) send(msg Message) bool {
	select {
	case e.Out <- msg:
		return true
	default:
		return false
	}
}
