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

package gate

import (
	"context"
	"sync/atomic"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// waitForOldFiber observes the previously-installed fiber for a gate key
// (if any), cancels it, and suspends until that fiber's exit callback
// fires. Only then does it resume the wrapped chain — guaranteeing the new
// fiber sees the old fiber's effects settle before touching shared remote
// state (spec.md §4.D, §5 "Ordering guarantees").
type waitForOldFiber struct {
	old     *fiber.Fiber
	wrapped packet.Step
	self    atomic.Pointer[fiber.Fiber]
}

func newWaitForOldFiber(old *fiber.Fiber, wrapped packet.Step) packet.Step {
	return &waitForOldFiber{old: old, wrapped: wrapped}
}

func (w *waitForOldFiber) StepName() string { return "WaitForOldFiber" }

func (w *waitForOldFiber) Next() packet.Step { return w.wrapped }

func (w *waitForOldFiber) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	if w.old == nil {
		return packet.Advance(w.wrapped)
	}

	self := w.selfFiberOnce()
	cancelled := w.old.CancelAndExitCallback(true, func() {
		if self != nil {
			self.Resume(p)
		}
	})
	// cancelled==true means onCancelled already ran synchronously (the old
	// fiber was suspended, idle, or already done) — short-circuit without
	// suspending (spec.md §4.D "When the old fiber has already completed").
	if cancelled {
		return packet.Advance(w.wrapped)
	}
	return packet.Suspend(w.wrapped)
}

// selfFiberOnce returns the fiber that waitForOldFiber resumes once
// cancellation of the old fiber settles: the new fiber, bound by bindSelf
// at construction time rather than looked up from the ctx passed to
// Execute.
func (w *waitForOldFiber) selfFiberOnce() *fiber.Fiber {
	return w.self.Load()
}

// bindSelf is called once by Gate.startLocked right after the new fiber is
// constructed, so the cancellation callback above can resume it.
func (w *waitForOldFiber) bindSelf(self *fiber.Fiber) {
	w.self.Store(self)
}
