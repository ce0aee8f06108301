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

// Package stepsync provides the race-a-watch-event-against-a-deadline
// pattern every suspending step in podstep and roll needs: spec.md §5
// requires that "every step that suspends on an external event MUST
// register a fallback delay", and whichever of the two fires first must win
// without the loser double-resuming the fiber.
package stepsync

import (
	"context"
	"sync"
	"time"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// outcome carries the payload of whichever settles first: the watch
// callback (with its own result value) or the deadline (timedOut=true,
// zero value).
type outcome[T any] struct {
	mu       sync.Mutex
	settled  bool
	timedOut bool
	value    T
}

func (o *outcome[T]) settle(timedOut bool, value T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.settled {
		return false
	}
	o.settled, o.timedOut, o.value = true, timedOut, value
	return true
}

func (o *outcome[T]) read() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value, o.timedOut
}

// Await arranges for the current fiber (recovered from ctx via
// fiber.FromContext) to be woken either when register calls its settle
// closure with a result, or after timeout elapses — whichever happens
// first. onResult is invoked once resumed, with the winning result and
// whether the deadline won, and its return value becomes the resumed step's
// NextAction. Returns the Suspend action the caller's Execute must return.
func Await[T any](
	ctx context.Context,
	p *packet.Packet,
	timeout time.Duration,
	register func(settle func(T)),
	onResult func(ctx context.Context, p *packet.Packet, result T, timedOut bool) packet.NextAction,
) packet.NextAction {
	self, _ := fiber.FromContext(ctx)
	out := &outcome[T]{}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	context.AfterFunc(deadlineCtx, func() {
		var zero T
		if deadlineCtx.Err() == context.DeadlineExceeded && out.settle(true, zero) && self != nil {
			self.Resume(p)
		}
	})

	register(func(result T) {
		cancel()
		if out.settle(false, result) && self != nil {
			self.Resume(p)
		}
	})

	resumeStep := packet.NewFunc("AwaitOutcome", nil, func(ctx context.Context, p *packet.Packet) packet.NextAction {
		result, timedOut := out.read()
		return onResult(ctx, p, result, timedOut)
	})
	return packet.Suspend(resumeStep)
}

// AwaitWithTimeout is Await specialised to a bare signal (no payload beyond
// "it happened"), the common case for waitForDeleted-style suspensions.
func AwaitWithTimeout(
	ctx context.Context,
	p *packet.Packet,
	timeout time.Duration,
	register func(onSettled func()),
	onResult func(ctx context.Context, p *packet.Packet, timedOut bool) packet.NextAction,
) packet.NextAction {
	return Await[struct{}](ctx, p, timeout,
		func(settle func(struct{})) {
			register(func() { settle(struct{}{}) })
		},
		func(ctx context.Context, p *packet.Packet, _ struct{}, timedOut bool) packet.NextAction {
			return onResult(ctx, p, timedOut)
		},
	)
}
