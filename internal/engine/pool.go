package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yc7764/whisperstream/internal/observe"
)

// AllocateTimeout is the ceiling a session handler waits for an idle engine
// before the server reports itself too busy.
const AllocateTimeout = 60 * time.Second

// ErrNoEngine is returned by Allocate when no engine frees up within
// AllocateTimeout.
var ErrNoEngine = errors.New("no idle engine")

// Pool hands out engines to session handlers. Idle slots are represented by
// their IDs on a buffered channel, so allocation is a channel receive and
// contention ordering comes from the runtime, not from a retry loop.
type Pool struct {
	engines      []*Engine
	idle         chan int
	metrics      *observe.Metrics
	allocTimeout time.Duration
	readyCount   atomic.Int32
	wg           sync.WaitGroup
}

// Option customizes a Pool.
type Option func(*Pool)

// WithAllocateTimeout overrides the AllocateTimeout ceiling.
func WithAllocateTimeout(d time.Duration) Option {
	return func(p *Pool) { p.allocTimeout = d }
}

// NewEngines builds n engine slots named "<language>:<index>". Every slot
// starts busy; a slot only becomes allocatable once its worker has loaded
// the model and reported ready.
func NewEngines(n int, language string) []*Engine {
	engines := make([]*Engine, n)
	for i := range engines {
		engines[i] = newEngine(i, language)
	}
	return engines
}

// NewPool returns a pool over the given slots. A nil metrics falls back to
// the process-wide instance.
func NewPool(engines []*Engine, m *observe.Metrics, opts ...Option) *Pool {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	p := &Pool{
		engines:      engines,
		idle:         make(chan int, len(engines)),
		metrics:      m,
		allocTimeout: AllocateTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of pool slots.
func (p *Pool) Size() int { return len(p.engines) }

// Start launches one goroutine per worker. Each worker flips its slot idle
// once its model is loaded; a worker whose initialization fails leaves the
// slot busy forever, shrinking the effective pool.
func (p *Pool) Start(ctx context.Context, workers []*Worker) {
	for _, w := range workers {
		w := w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(ctx, func() { p.ready(w.engine) })
		}()
	}
}

// Wait blocks until every worker started by Start has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Allocate claims an idle engine, blocking up to AllocateTimeout. It returns
// ErrNoEngine when the ceiling passes with every slot busy, or ctx.Err() if
// the caller's context ends first.
func (p *Pool) Allocate(ctx context.Context) (*Engine, error) {
	start := time.Now()
	timer := time.NewTimer(p.allocTimeout)
	defer timer.Stop()

	select {
	case id := <-p.idle:
		e := p.engines[id]
		e.busy.Store(true)
		p.metrics.BusyEngines.Add(ctx, 1)
		p.metrics.AllocWaitDuration.Record(ctx, time.Since(start).Seconds())
		return e, nil
	case <-timer.C:
		return nil, ErrNoEngine
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns e to the idle set. Releasing an already-idle engine is a
// no-op, so the session handler's cleanup path can call it unconditionally.
func (p *Pool) Release(e *Engine) {
	if e.busy.CompareAndSwap(true, false) {
		p.metrics.BusyEngines.Add(context.Background(), -1)
		p.idle <- e.ID
	}
}

// ready marks a freshly initialized worker's slot idle. Unlike Release it
// does not touch the busy gauge: the slot was never counted as allocated.
func (p *Pool) ready(e *Engine) {
	p.readyCount.Add(1)
	e.busy.Store(false)
	p.idle <- e.ID
}

// Ready reports how many workers have loaded their models and joined the
// rotation. The readiness probe passes once this is non-zero.
func (p *Pool) Ready() int { return int(p.readyCount.Load()) }

// Status reports the busy flag of every slot in ID order, for the %c
// engine-status query.
func (p *Pool) Status() []bool {
	status := make([]bool, len(p.engines))
	for i, e := range p.engines {
		status[i] = e.Busy()
	}
	return status
}
