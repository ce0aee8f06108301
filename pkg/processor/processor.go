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

// Package processor is the DomainProcessor shim: a thin, concrete
// implementation of the three upstream entrypoints spec.md §6 names
// (submit, snapshot, shutdown), wiring FiberGate and the Engine to a
// default step chain so the kernel is runnable end-to-end. Everything the
// spec treats as out of kernel scope — condition-text ownership aside —
// stays out of scope here too: this package drives the kernel, it does not
// reimplement it.
package processor

import (
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/oracle/weblogic-kernel/pkg/domain"
	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/gate"
	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// ChainBuilder produces the step chain a fresh fiber should run for
// snapshot. Supplied by the binary's wiring (it closes over a podmodel.Builder
// that the kernel itself has no opinion about, spec.md §1).
type ChainBuilder func(snapshot *domain.Snapshot) packet.Step

// FiberStatus is one entry of the snapshot() observability call (spec.md
// §6), naming a currently in-flight fiber by its last-observed step and
// when the submission that spawned it arrived.
type FiberStatus struct {
	FiberID   string
	StepName  string
	StartedAt time.Time
}

// Processor is the DomainProcessor shim.
type Processor struct {
	engine *fiber.Engine
	gate   *gate.Gate
	k8s    client.Client
	build  ChainBuilder

	mu        sync.Mutex
	startedAt map[string]time.Time
}

// New builds a Processor. engine and g are shared across every submission;
// k8s backs every Packet's API seam; build is invoked once per submission
// to produce that fiber's step chain.
func New(engine *fiber.Engine, g *gate.Gate, k8s client.Client, build ChainBuilder) *Processor {
	return &Processor{
		engine:    engine,
		gate:      g,
		k8s:       k8s,
		build:     build,
		startedAt: make(map[string]time.Time),
	}
}

// key is the FiberGate key spec.md §6 specifies: "(namespace, domainUID)".
func key(snapshot *domain.Snapshot) string {
	return snapshot.Namespace + "/" + snapshot.DomainUID
}

// Submit starts a fresh reconciliation fiber for snapshot, cancelling any
// fiber already in flight for the same (namespace, domainUID) — FiberGate's
// Start always wins outright (spec.md §8 scenario 2 "Pre-emption").
func (p *Processor) Submit(snapshot *domain.Snapshot) *CompletionFuture {
	k := key(snapshot)
	future := newCompletionFuture()

	p.mu.Lock()
	p.startedAt[k] = time.Now()
	p.mu.Unlock()

	chain := p.build(snapshot)
	pk := packet.New(snapshot, p.k8s)
	p.gate.Start(k, chain, pk, p.engine, func(resultPacket *packet.Packet, err error) {
		future.complete(resultPacket, err)
	})
	return future
}

// Snapshot reports every key with a fiber currently in flight, per spec.md
// §6 "observability".
func (p *Processor) Snapshot() map[string]FiberStatus {
	current := p.gate.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]FiberStatus, len(current))
	for k, f := range current {
		stepName, _ := f.StepName.Load().(string)
		out[k] = FiberStatus{
			FiberID:   f.ID.String(),
			StepName:  stepName,
			StartedAt: p.startedAt[k],
		}
	}
	return out
}

// Shutdown cancels every in-flight fiber and blocks until each has drained
// or grace elapses (spec.md §6 "shutdown(grace)").
func (p *Processor) Shutdown(grace time.Duration) {
	for _, f := range p.gate.Snapshot() {
		f.CancelAndExitCallback(true, func() {})
	}
	p.engine.Shutdown(grace)
}
