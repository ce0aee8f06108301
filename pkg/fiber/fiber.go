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

// Package fiber is the cooperative execution context that runs a step
// chain to completion (spec.md §4.B), and the bounded worker pool that
// hosts fibers (spec.md §4.C). It replaces the source's green-thread fiber
// with one goroutine per running fiber, per the "native lightweight
// concurrency primitive" guidance in spec.md §9. A suspended fiber holds no
// goroutine: its run loop returns, and Resume submits it to the Engine
// again.
package fiber

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// fiberContextKey is the context key a step's Execute call can use to
// recover the Fiber running it, via FromContext — needed whenever a step
// arranges its own external wakeup (a watch callback, a timer) and must
// call Resume itself once that wakeup fires (spec.md §4.A "suspend").
type fiberContextKey struct{}

// FromContext recovers the Fiber that is currently executing the step
// holding ctx, if any.
func FromContext(ctx context.Context) (*Fiber, bool) {
	f, ok := ctx.Value(fiberContextKey{}).(*Fiber)
	return f, ok
}

func withFiber(ctx context.Context, f *Fiber) context.Context {
	return context.WithValue(ctx, fiberContextKey{}, f)
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateSuspended
	stateDone
)

// CompletionFunc is invoked exactly once when a Fiber finishes, with err
// nil on normal completion and non-nil on cancellation or failure.
type CompletionFunc func(p *packet.Packet, err error)

// Fiber runs one step chain to completion or cancellation, emits exactly
// one terminal callback, and is then discarded (spec.md §3 "Lifecycles").
type Fiber struct {
	ID uuid.UUID

	engine *Engine

	mu            sync.Mutex
	state         runState
	cancelled     bool
	pendingCancel func()
	currentStep   packet.Step
	currentPacket *packet.Packet
	exitCallbacks []func(error)
	onComplete    CompletionFunc

	resumeStep packet.Step

	// resumeBuffered records a Resume that arrived while state was still
	// stateRunning: a step's Execute can register an external wakeup (e.g.
	// watcher.WaitForDeleted observing the resource already gone) whose
	// settle callback fires synchronously, before Execute has returned the
	// Suspend action to run's loop below. Without this buffer that Resume
	// call finds state != stateSuspended, is treated as a no-op, and the
	// fiber parks on the Suspend action with nothing left to ever wake it.
	resumeBuffered bool
	bufferedPacket *packet.Packet

	// StepName is updated before every Execute call for observability
	// (the snapshot() debug surface in SPEC_FULL.md §6).
	StepName atomic.Value
}

func newFiber(e *Engine, start packet.Step, p *packet.Packet, onComplete CompletionFunc) *Fiber {
	f := &Fiber{
		ID:            uuid.New(),
		engine:        e,
		currentStep:   start,
		currentPacket: p,
		onComplete:    onComplete,
	}
	f.StepName.Store("")
	return f
}

// PushExitCallback registers cb for structured cleanup; callbacks run in
// LIFO order once the fiber reaches a terminal state, each receiving the
// fiber's terminal error (nil on success).
func (f *Fiber) PushExitCallback(cb func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitCallbacks = append(f.exitCallbacks, cb)
}

// Resume wakes a suspended fiber with the given packet, re-submitting it to
// the engine. Calling Resume while the fiber is already done or idle is a
// no-op — idempotent re-entry from a collaborator that fires its wakeup
// twice. Calling Resume while the fiber is still running its current step
// buffers the wakeup instead: the step may be in the middle of registering
// this very callback and is about to return Suspend, and run's loop checks
// the buffer before it actually parks (see resumeBuffered).
func (f *Fiber) Resume(p *packet.Packet) {
	f.mu.Lock()
	switch f.state {
	case stateSuspended:
		f.state = stateIdle
		f.currentStep = f.resumeStep
		f.currentPacket = p
		f.mu.Unlock()
		f.engine.submitResume(f)
	case stateRunning:
		f.resumeBuffered = true
		f.bufferedPacket = p
		f.mu.Unlock()
	default:
		f.mu.Unlock()
	}
}

// resumeAfterDelay is the Engine's callback when a Delay action's timer
// fires: unlike Resume, it keeps the fiber's current packet unchanged since
// no external collaborator produced a new one.
func (f *Fiber) resumeAfterDelay() {
	f.mu.Lock()
	if f.state != stateSuspended {
		f.mu.Unlock()
		return
	}
	f.state = stateIdle
	f.currentStep = f.resumeStep
	f.mu.Unlock()

	f.engine.submitResume(f)
}

// CancelAndExitCallback implements spec.md §4.B's three-branch contract:
//  1. Atomically set the cancellation flag.
//  2. If suspended, invoke onCancelled immediately, finish the fiber with
//     ErrCancelled, and return true. An idle or already-finished fiber also
//     gets onCancelled immediately and returns true.
//  3. If running, arrange for onCancelled to fire at the next step
//     boundary and return false — the caller must treat false as "no
//     callback yet".
func (f *Fiber) CancelAndExitCallback(mayInterruptIfRunning bool, onCancelled func()) bool {
	f.mu.Lock()
	f.cancelled = true

	switch f.state {
	case stateSuspended:
		f.state = stateDone
		f.mu.Unlock()
		onCancelled()
		f.finish(ErrCancelled)
		return true
	case stateRunning:
		// mayInterruptIfRunning is accepted for interface symmetry with
		// the source, but the kernel never interrupts a step mid-flight:
		// remote API calls are non-atomic, so the only safe cancellation
		// point is the next step boundary (spec.md §4.B "Why this shape").
		_ = mayInterruptIfRunning
		f.pendingCancel = onCancelled
		f.mu.Unlock()
		return false
	case stateDone:
		f.mu.Unlock()
		onCancelled()
		return true
	default: // idle, not yet scheduled
		f.state = stateDone
		f.mu.Unlock()
		onCancelled()
		return true
	}
}

func (f *Fiber) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// run is the fiber's event loop: it pops the current step, runs it,
// interprets the NextAction, and yields. Suspension points are only at step
// boundaries (spec.md §5).
func (f *Fiber) run(ctx context.Context) {
	for {
		f.mu.Lock()
		if f.cancelled {
			cb := f.pendingCancel
			f.state = stateDone
			f.mu.Unlock()
			if cb != nil {
				cb()
			}
			f.finish(ErrCancelled)
			return
		}
		if err := ctx.Err(); err != nil {
			// The Engine is shutting down: stop at this step boundary.
			f.mu.Unlock()
			f.finish(err)
			return
		}
		f.state = stateRunning
		step := f.currentStep
		p := f.currentPacket
		f.mu.Unlock()

		if step == nil {
			f.finish(nil)
			return
		}

		f.StepName.Store(stepName(step))
		action := step.Execute(withFiber(ctx, f), p)

		f.mu.Lock()
		if action.Packet != nil {
			f.currentPacket = action.Packet
		}
		cancelledMidStep := f.cancelled
		cb := f.pendingCancel
		f.mu.Unlock()

		if cancelledMidStep {
			if cb != nil {
				cb()
			}
			f.finish(ErrCancelled)
			return
		}

		switch action.Kind {
		case packet.ActionAdvance:
			next := action.Next
			if next == nil {
				next = step.Next()
			}
			f.mu.Lock()
			f.currentStep = next
			f.resumeBuffered = false
			f.bufferedPacket = nil
			f.mu.Unlock()
			continue
		case packet.ActionSuspend:
			f.mu.Lock()
			if f.resumeBuffered {
				// The wakeup this step just registered already fired,
				// synchronously, before Execute returned here. Go straight
				// to the resume step instead of parking on a suspend no one
				// is left to undo.
				f.resumeBuffered = false
				buffered := f.bufferedPacket
				f.bufferedPacket = nil
				f.currentStep = action.Next
				if buffered != nil {
					f.currentPacket = buffered
				}
				f.mu.Unlock()
				continue
			}
			f.state = stateSuspended
			f.resumeStep = action.Next
			f.mu.Unlock()
			return
		case packet.ActionDelay:
			f.mu.Lock()
			f.resumeBuffered = false
			f.bufferedPacket = nil
			f.state = stateSuspended
			f.resumeStep = action.Next
			f.mu.Unlock()
			f.engine.scheduleResume(f, action.Delay)
			return
		case packet.ActionTerminate:
			f.finish(nil)
			return
		case packet.ActionThrow:
			f.finish(action.Err)
			return
		}
	}
}

func (f *Fiber) finish(err error) {
	f.mu.Lock()
	f.state = stateDone
	callbacks := f.exitCallbacks
	f.exitCallbacks = nil
	onComplete := f.onComplete
	p := f.currentPacket
	f.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i](err)
	}
	if onComplete != nil {
		onComplete(p, err)
	}
}

func stepName(s packet.Step) string {
	type named interface{ StepName() string }
	if n, ok := s.(named); ok {
		return n.StepName()
	}
	return "<anonymous step>"
}
