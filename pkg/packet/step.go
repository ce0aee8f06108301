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

package packet

import (
	"context"
	"time"
)

// ActionKind enumerates the five directives a Step may return (spec.md
// §4.A).
type ActionKind int

const (
	ActionAdvance ActionKind = iota
	ActionSuspend
	ActionDelay
	ActionTerminate
	ActionThrow
)

// NextAction is the directive a Step hands back to its Fiber. Exactly one
// of the constructor functions below should be used to build one; the zero
// value is not a valid NextAction.
type NextAction struct {
	Kind ActionKind

	// Next is the step to run next. For ActionAdvance, nil means "the
	// chain successor" (Step.Next()). For ActionSuspend, Next is the step
	// that runs when some external event calls Fiber.Resume. For
	// ActionDelay, Next is the step to re-run after Delay elapses.
	Next Step

	// Packet optionally replaces the fiber's current packet going forward
	// (e.g. after a deferred sub-workflow hands back a merged copy). Nil
	// means "keep the current packet".
	Packet *Packet

	Delay time.Duration
	Err   error
}

// Advance continues the chain with next (or the chain successor, if next
// is nil), keeping the fiber's current packet.
func Advance(next Step) NextAction {
	return NextAction{Kind: ActionAdvance, Next: next}
}

// AdvanceWithPacket is Advance but also swaps the fiber's packet.
func AdvanceWithPacket(next Step, p *Packet) NextAction {
	return NextAction{Kind: ActionAdvance, Next: next, Packet: p}
}

// Suspend parks the fiber until some external collaborator calls
// Fiber.Resume. onResume names the step that runs once resumed; the caller
// is responsible for arranging the external wakeup (e.g. registering a
// waiter with the Pod Watcher) before returning this action.
func Suspend(onResume Step) NextAction {
	return NextAction{Kind: ActionSuspend, Next: onResume}
}

// Delay reschedules step to run again after d elapses, on the Engine's
// timer.
func Delay(step Step, d time.Duration) NextAction {
	return NextAction{Kind: ActionDelay, Next: step, Delay: d}
}

// Terminate ends the fiber successfully.
func Terminate() NextAction {
	return NextAction{Kind: ActionTerminate}
}

// Throw ends the fiber with cause propagated to its failure callback.
func Throw(cause error) NextAction {
	return NextAction{Kind: ActionThrow, Err: cause}
}

// Step is a unit of work with one entry point: given a Packet, produce a
// NextAction (spec.md §4.A). Steps MUST be stateless with respect to the
// fiber running them — all mutable state lives in the Packet or in a
// context allocated per-step-per-fiber by the step's own Execute call.
//
// Chains are acyclic by construction (spec.md §9 "Cyclic structures"): a
// step that needs to re-enter an earlier phase builds a fresh, forward-
// linked Step rather than returning to an existing one.
type Step interface {
	// Execute runs this step against p and returns the next directive.
	Execute(ctx context.Context, p *Packet) NextAction
	// Next returns the chain successor used when Advance's Next is nil.
	// A terminal step returns nil.
	Next() Step
}

// Func adapts a plain function plus an explicit successor into a Step,
// the way a one-off inline step is most often written.
type Func struct {
	Name string
	Run  func(ctx context.Context, p *Packet) NextAction
	next Step
}

// NewFunc builds a Func step forward-linked to next.
func NewFunc(name string, next Step, run func(ctx context.Context, p *Packet) NextAction) *Func {
	return &Func{Name: name, Run: run, next: next}
}

func (f *Func) Execute(ctx context.Context, p *Packet) NextAction { return f.Run(ctx, p) }
func (f *Func) Next() Step                                        { return f.next }
