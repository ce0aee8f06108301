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

// Package gate implements FiberGate: a keyed single-flight registry where
// at most one fiber per key runs at a time, and a newer arrival cancels the
// in-flight one rather than queuing behind it (spec.md §4.D).
package gate

import (
	"sync"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// placeholder is installed as the "current fiber" for a key with no real
// fiber running yet, reducing StartIfNoCurrent to the CAS case (spec.md
// §4.D "Tie-breaks").
var placeholder = &fiber.Fiber{}

// Gate maps domain keys to their currently-owning fiber. Implemented as a
// plain map guarded by a mutex rather than sync.Map: every operation here
// needs a compare-and-swap across two fields (the map entry and "is this
// still current"), which sync.Map's API can't express atomically, and the
// critical sections below are too small to matter for contention.
type Gate struct {
	mu      sync.Mutex
	current map[string]*fiber.Fiber
}

// New builds an empty Gate.
func New() *Gate {
	return &Gate{current: make(map[string]*fiber.Fiber)}
}

// Start always starts: it cancels any fiber currently holding key and
// installs a new one running chain over p, calling cb on completion. Used
// when the caller wants the freshest intent to win outright (spec.md §4.D).
func (g *Gate) Start(key string, chain packet.Step, p *packet.Packet, e *fiber.Engine, cb fiber.CompletionFunc) *fiber.Fiber {
	return g.startLocked(key, nil, chain, p, e, cb, false)
}

// StartIfNoCurrent starts a fiber for key only if none is currently
// running; otherwise it is a no-op and returns nil.
func (g *Gate) StartIfNoCurrent(key string, chain packet.Step, p *packet.Packet, e *fiber.Engine, cb fiber.CompletionFunc) *fiber.Fiber {
	return g.startLocked(key, placeholder, chain, p, e, cb, true)
}

// StartIfLastMatches atomically replaces expected with a new fiber for key;
// if key's current fiber is not expected, nothing is started and nil is
// returned. Passing nil for expected is equivalent to StartIfNoCurrent.
func (g *Gate) StartIfLastMatches(key string, expected *fiber.Fiber, chain packet.Step, p *packet.Packet, e *fiber.Engine, cb fiber.CompletionFunc) *fiber.Fiber {
	if expected == nil {
		expected = placeholder
	}
	return g.startLocked(key, expected, chain, p, e, cb, true)
}

// startLocked is the single implementation shared by all three entrypoints.
// requireMatch=false means "always start" (cancel whatever is there, if
// anything); requireMatch=true means "only start if the key's current
// fiber equals expected".
func (g *Gate) startLocked(key string, expected *fiber.Fiber, chain packet.Step, p *packet.Packet, e *fiber.Engine, cb fiber.CompletionFunc, requireMatch bool) *fiber.Fiber {
	g.mu.Lock()
	existing, has := g.current[key]

	if requireMatch {
		currentOrPlaceholder := placeholder
		if has {
			currentOrPlaceholder = existing
		}
		if currentOrPlaceholder != expected {
			g.mu.Unlock()
			return nil
		}
	}

	var old *fiber.Fiber
	if has {
		old = existing
	}

	// Every entrypoint shares one implementation: atomically decide what
	// the previous occupant of key was, then prepend a WaitForOldFiber
	// step to the chain. That step cancels the old fiber (if any) and
	// suspends until its exit callback fires — only then does it resume
	// the new chain (spec.md §4.D).
	wrapped := newWaitForOldFiber(old, chain)

	var newFiber *fiber.Fiber
	completion := func(resultPacket *packet.Packet, err error) {
		g.remove(key, newFiber)
		if cb != nil {
			cb(resultPacket, err)
		}
	}
	newFiber = e.CreateFiber(wrapped, p, completion)
	wrapped.(*waitForOldFiber).bindSelf(newFiber)
	g.current[key] = newFiber
	g.mu.Unlock()

	e.Submit(newFiber)
	return newFiber
}

// remove clears key's entry only if it still points to self, preventing a
// late-completing cancelled fiber from evicting its successor (spec.md
// §4.D "Map entry is removed...").
func (g *Gate) remove(key string, self *fiber.Fiber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current[key] == self {
		delete(g.current, key)
	}
}

// Current returns the fiber currently owning key, if any.
func (g *Gate) Current(key string) (*fiber.Fiber, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.current[key]
	return f, ok
}

// Snapshot returns a shallow copy of every key currently owned by a fiber,
// backing the upstream snapshot() observability call (SPEC_FULL.md §6).
func (g *Gate) Snapshot() map[string]*fiber.Fiber {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*fiber.Fiber, len(g.current))
	for k, v := range g.current {
		out[k] = v
	}
	return out
}
