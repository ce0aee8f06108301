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

// Package packet defines the per-fiber context bag threaded through a step
// chain (spec.md §4.E) and the Step contract that operates on it. Per the
// "Packet as a typed context" guidance in spec.md §9, this is a product
// type with the kernel's well-known fields as explicit struct fields —
// never an untyped map — plus a small closed set of service handles.
package packet

import (
	"sync"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/oracle/weblogic-kernel/pkg/domain"
)

// RollEntry is one accumulated roll request: a builder for the deferred
// step that will cycle the server, and a deep copy of the packet as it
// stood when the request was recorded (spec.md §4.G step 2). Build takes
// the step to run once this server's replacement is ready, letting the
// Roll Coordinator splice several deferred cycles into one sequence at
// drain time rather than baking a successor in at registration time.
type RollEntry struct {
	ServerName  string
	ClusterName string
	Build       func(onDone Step) Step
	Snapshot    *Packet
}

// Packet is the per-fiber context bag. It begins as the initial context for
// one fiber and is carried by reference through every step of that fiber;
// it is never shared concurrently across fibers — Copy() is used instead
// whenever a deferred sub-workflow must observe an independent snapshot.
type Packet struct {
	// Domain is the snapshot this fiber is reconciling toward.
	Domain *domain.Snapshot
	// ClusterName is the cluster the current step is operating within, or
	// empty while processing the administrative server.
	ClusterName string
	// Topology is the parsed introspector output, once available.
	Topology *Scan
	// Env carries the environment-variable list a pod step is assembling
	// for the server currently being processed.
	Env []corev1.EnvVar

	// K8s is the Kubernetes API seam every step reads and writes through.
	// Kept as controller-runtime's client.Client directly: it is already
	// the thin CRUD/watch interface spec.md §1 asks the kernel to depend
	// on rather than own.
	K8s client.Client

	// mu guards ServersToRoll. The Packet object serves as its own monitor
	// (spec.md §5 "Shared-resource policy") — a lock scoped to exactly the
	// data it protects, not a package-level lock.
	mu            sync.Mutex
	serversToRoll map[string]RollEntry
}

// Scan is the parsed topology output of an introspector run (spec.md
// GLOSSARY). The kernel treats introspection as a black box; this struct
// only carries the fields a pod step needs to decide whether a server's
// listen address/ports changed.
type Scan struct {
	Servers map[string]ServerScan
}

// ServerScan is one server's topology entry.
type ServerScan struct {
	ListenAddress string
	ListenPort    int32
}

// New builds the initial Packet for a fresh reconciliation fiber.
func New(snapshot *domain.Snapshot, k8s client.Client) *Packet {
	return &Packet{
		Domain:        snapshot,
		K8s:           k8s,
		serversToRoll: make(map[string]RollEntry),
	}
}

// AddRollRequest records a deferred roll request under lock, returning
// false if the server was already pending (idempotent re-entry, spec.md
// §4.G step 2).
func (p *Packet) AddRollRequest(entry RollEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.serversToRoll[entry.ServerName]; exists {
		return false
	}
	p.serversToRoll[entry.ServerName] = entry
	return true
}

// DrainRollRequests atomically removes and returns every accumulated roll
// request, clearing the map for subsequent passes.
func (p *Packet) DrainRollRequests() map[string]RollEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.serversToRoll
	p.serversToRoll = make(map[string]RollEntry)
	return drained
}

// PendingRollCount reports how many servers are currently queued for roll,
// without draining them.
func (p *Packet) PendingRollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.serversToRoll)
}

// Copy deep-copies the packet's map-shaped fields and service registry for
// a deferred sub-workflow (spec.md §4.E). The Domain snapshot itself is not
// deep-copied — snapshots are immutable, so sharing the pointer is safe.
func (p *Packet) Copy() *Packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := &Packet{
		Domain:        p.Domain,
		ClusterName:   p.ClusterName,
		K8s:           p.K8s,
		serversToRoll: make(map[string]RollEntry, len(p.serversToRoll)),
	}
	if p.Topology != nil {
		topologyCopy := *p.Topology
		if p.Topology.Servers != nil {
			topologyCopy.Servers = make(map[string]ServerScan, len(p.Topology.Servers))
			for k, v := range p.Topology.Servers {
				topologyCopy.Servers[k] = v
			}
		}
		cp.Topology = &topologyCopy
	}
	if p.Env != nil {
		cp.Env = append([]corev1.EnvVar(nil), p.Env...)
	}
	for k, v := range p.serversToRoll {
		cp.serversToRoll[k] = v
	}
	return cp
}
