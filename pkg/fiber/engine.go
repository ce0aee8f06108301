/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fiber

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// Engine is the bounded worker pool that hosts fibers (spec.md §4.C). It
// bounds concurrency with an errgroup limit rather than a fixed set of
// long-lived worker goroutines pulling off a channel — every fiber gets its
// own goroutine for the span of one run, and the limit simply bounds how
// many are in flight at once, which composes cleanly with suspend/resume
// (a suspended fiber holds no goroutine and no slot).
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	g       *errgroup.Group
	workers int

	mu      sync.Mutex
	timers  []*time.Timer
	tickers []*time.Ticker

	activeFibers prometheus.Gauge
}

// NewEngine builds an Engine bounded to workers concurrent fibers. ctx
// governs the Engine's own lifetime; cancelling it stops accepting new
// fiber work (in-flight fibers still run to their next step boundary).
func NewEngine(ctx context.Context, workers int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	engineCtx, cancel := context.WithCancel(ctx)
	g, engineCtx := errgroup.WithContext(engineCtx)
	g.SetLimit(workers)

	return &Engine{
		ctx:     engineCtx,
		cancel:  cancel,
		g:       g,
		workers: workers,
		activeFibers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weblogic_kernel_active_fibers",
			Help: "Number of fibers currently waiting for or holding a worker slot on the engine.",
		}),
	}
}

// Collector exposes the Engine's Prometheus gauge for registration by the
// caller's metrics registry. The kernel never registers itself globally —
// wiring it to a registry is the binary's job.
func (e *Engine) Collector() prometheus.Collector { return e.activeFibers }

// CreateFiber allocates a new Fiber seeded with start/p, without submitting
// it for execution yet. Callers typically hand the result straight to
// Submit, or to FiberGate which owns the submit timing.
func (e *Engine) CreateFiber(start packet.Step, p *packet.Packet, onComplete CompletionFunc) *Fiber {
	return newFiber(e, start, p, onComplete)
}

// Submit schedules f to run on the next available worker slot. It never
// blocks the caller: when every slot is taken, f waits for one on a
// separate goroutine.
func (e *Engine) Submit(f *Fiber) {
	e.activeFibers.Inc()
	work := func() error {
		defer e.activeFibers.Dec()
		f.run(e.ctx)
		return nil
	}
	if !e.g.TryGo(work) {
		go e.g.Go(work)
	}
}

// submitResume re-enters the pool for a fiber that was suspended and has
// just been woken. It takes a fresh slot exactly like Submit — a resumed
// fiber competes for workers the same as a brand-new one.
func (e *Engine) submitResume(f *Fiber) {
	e.Submit(f)
}

// Schedule runs task once after delay elapses, on the Engine's own timer
// goroutine (outside the bounded worker pool — timers are cheap and must
// not starve waiting for a fiber slot).
func (e *Engine) Schedule(task func(), delay time.Duration) {
	t := time.AfterFunc(delay, task)
	e.mu.Lock()
	e.timers = append(e.timers, t)
	e.mu.Unlock()
}

// ScheduleAtFixedRate runs task repeatedly, first after initialDelay then
// every period, until the Engine is shut down.
func (e *Engine) ScheduleAtFixedRate(task func(), initialDelay, period time.Duration) {
	go func() {
		timer := time.NewTimer(initialDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-e.ctx.Done():
			return
		}
		task()

		ticker := time.NewTicker(period)
		e.mu.Lock()
		e.tickers = append(e.tickers, ticker)
		e.mu.Unlock()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				task()
			case <-e.ctx.Done():
				return
			}
		}
	}()
}

// scheduleResume is the Delay action's hook: it wakes f after d via the
// Engine's timer, keeping the fiber's current packet (spec.md §4.A delay).
func (e *Engine) scheduleResume(f *Fiber, d time.Duration) {
	e.Schedule(f.resumeAfterDelay, d)
}

// Start implements controller-runtime's manager.Runnable, letting
// cmd/controller register the Engine alongside its watch-based controllers
// instead of managing its lifecycle separately. It blocks until ctx is
// cancelled, then shuts the Engine down within a fixed grace window — the
// Engine never participates in leader election itself (spec.md explicit
// Non-goal).
func (e *Engine) Start(ctx context.Context) error {
	<-ctx.Done()
	e.Shutdown(30 * time.Second)
	return nil
}

// Shutdown stops accepting new fiber submissions, cancels the Engine's
// context so in-flight fibers observe cancellation at their next step
// boundary, stops all timers, and blocks until every in-flight fiber has
// finished or grace elapses.
func (e *Engine) Shutdown(grace time.Duration) {
	e.mu.Lock()
	for _, t := range e.timers {
		t.Stop()
	}
	for _, t := range e.tickers {
		t.Stop()
	}
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		_ = e.g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
	}
}
