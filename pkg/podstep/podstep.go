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

// Package podstep is the Pod Step Context: for one server identity it reads
// the live pod, builds the desired model, and decides CREATE, PATCH, or
// ROLL (spec.md §4.F).
package podstep

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/oracle/weblogic-kernel/pkg/config"
	"github.com/oracle/weblogic-kernel/pkg/domain"
	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
	"github.com/oracle/weblogic-kernel/pkg/podmodel"
	"github.com/oracle/weblogic-kernel/pkg/roll"
	"github.com/oracle/weblogic-kernel/pkg/stepsync"
	"github.com/oracle/weblogic-kernel/pkg/watcher"
)

// podReadiness is the payload of the race between a watch-observed ready
// event, a watch-observed failed event, and this step's own deadline.
type podReadiness int

const (
	podReady podReadiness = iota
	podFailed
)

// Context is the Pod Step Context for one server identity (spec.md §4.F).
// A Context is immutable after construction; WithNext returns a copy with
// a different chain successor when the Roll Coordinator re-enters the same
// decision procedure for a replacement pod.
type Context struct {
	Identity        domain.Identity
	Namespace       string
	ShutdownTimeout time.Duration
	Builder         podmodel.Builder
	Watcher         *watcher.Watcher
	Tuning          config.Tuning
	// Reintrospect is the step taken instead of an admin-server replace
	// when the desired pod demands re-introspection first (spec.md §4.F
	// "Admin-server rebuild trigger").
	Reintrospect packet.Step

	next packet.Step
}

// New builds a Pod Step Context for identity.
func New(identity domain.Identity, namespace string, shutdownTimeout time.Duration, builder podmodel.Builder, w *watcher.Watcher, tuning config.Tuning, reintrospect, next packet.Step) *Context {
	return &Context{
		Identity:        identity,
		Namespace:       namespace,
		ShutdownTimeout: shutdownTimeout,
		Builder:         builder,
		Watcher:         w,
		Tuning:          tuning,
		Reintrospect:    reintrospect,
		next:            next,
	}
}

func (c *Context) StepName() string  { return "PodStep:" + c.Identity.ServerName }
func (c *Context) Next() packet.Step { return c.next }

// WithNext returns a shallow copy of c with a different chain successor.
// The Roll Coordinator uses this to re-enter this same READ→CREATE
// procedure for a deleted pod's replacement without looping back into the
// original per-domain chain (spec.md §4.G).
func (c *Context) WithNext(next packet.Step) *Context {
	cp := *c
	cp.next = next
	return &cp
}

func (c *Context) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	var live corev1.Pod
	err := p.K8s.Get(ctx, client.ObjectKey{Namespace: c.Namespace, Name: c.Identity.ServerName}, &live)
	if apierrors.IsNotFound(err) {
		return c.create(ctx, p)
	}
	if err != nil {
		return packet.Throw(fiber.NewKernelError(classifyGet(err), err))
	}

	if live.DeletionTimestamp != nil {
		return stepsync.AwaitWithTimeout(ctx, p, c.Tuning.DeleteTimeout,
			func(onSettled func()) { c.Watcher.WaitForDeleted(ctx, live.Name, onSettled) },
			func(ctx context.Context, p *packet.Packet, timedOut bool) packet.NextAction {
				if timedOut {
					return packet.Throw(fiber.NewKernelError(fiber.ErrKindWatchTimeout, fiber.ErrTimeoutExceeded))
				}
				return packet.Advance(c) // re-enter step 1
			},
		)
	}

	desired, err := c.Builder.Build(podmodel.Identity(c.Identity))
	if err != nil {
		return packet.Throw(fiber.NewKernelError(fiber.ErrKindInternal, err))
	}

	// Failed phase and an existing to-be-rolled marker both force
	// replacement regardless of hash (spec.md §4.F step 4, §3 invariant 3).
	needsReplace := live.Status.Phase == corev1.PodFailed || domain.MarkedForRoll(live.Labels)

	if !needsReplace {
		desiredHash, err := podmodel.Hash(desired.Hashed)
		if err != nil {
			return packet.Throw(fiber.NewKernelError(fiber.ErrKindInternal, err))
		}
		if desiredHash != live.Annotations[domain.AnnotationPodHash] {
			needsReplace = true
		} else if ops := nonHashedPatch(&live, desired); len(ops) > 0 {
			return c.applyPatch(ctx, p, &live, ops)
		} else {
			return packet.Advance(c.next)
		}
	}

	return c.replace(ctx, p, &live, desired)
}

// create POSTs the desired pod and awaits its arrival as Ready (or Failed)
// in the watcher before advancing (spec.md §4.F step 2).
func (c *Context) create(ctx context.Context, p *packet.Packet) packet.NextAction {
	desired, err := c.Builder.Build(podmodel.Identity(c.Identity))
	if err != nil {
		return packet.Throw(fiber.NewKernelError(fiber.ErrKindInternal, err))
	}

	hash, err := podmodel.Hash(desired.Hashed)
	if err != nil {
		return packet.Throw(fiber.NewKernelError(fiber.ErrKindInternal, err))
	}

	pod := buildPod(c.Identity, c.Namespace, desired, hash)

	createErr := fiber.RetryTransient(ctx, c.Tuning.RetryAttempts, c.Tuning.RetryBaseDelay, func() error {
		return p.K8s.Create(ctx, pod)
	})
	if createErr != nil && !apierrors.IsAlreadyExists(createErr) {
		return packet.Throw(fiber.NewKernelError(classifyWrite(createErr), createErr))
	}

	return stepsync.Await(ctx, p, c.Tuning.ReadyTimeout,
		func(settle func(podReadiness)) {
			c.Watcher.WaitForReady(c.Identity.ServerName,
				func(*corev1.Pod) { settle(podReady) },
				func(*corev1.Pod) { settle(podFailed) },
			)
		},
		func(ctx context.Context, p *packet.Packet, result podReadiness, timedOut bool) packet.NextAction {
			switch {
			case timedOut:
				return packet.Throw(fiber.NewKernelError(fiber.ErrKindWatchTimeout, fiber.ErrTimeoutExceeded))
			case result == podFailed:
				return packet.Advance(c) // re-enter step 1; Failed forces replacement
			default:
				return packet.Advance(c.next)
			}
		},
	)
}

// applyPatch issues a JSON-Patch for ops, transitioning to CREATE if the
// pod vanished underneath us (spec.md §4.F "Failure semantics").
func (c *Context) applyPatch(ctx context.Context, p *packet.Packet, live *corev1.Pod, ops []patchOp) packet.NextAction {
	err := fiber.RetryTransient(ctx, c.Tuning.RetryAttempts, c.Tuning.RetryBaseDelay, func() error {
		return applyJSONPatch(ctx, p.K8s, live, ops)
	})
	if apierrors.IsNotFound(err) {
		return c.create(ctx, p)
	}
	if err != nil {
		return packet.Throw(fiber.NewKernelError(classifyWrite(err), err))
	}
	return packet.Advance(c.next)
}

// replace dispatches a structural mismatch to the right replacement path:
// an admin-server rebuild (immediate, or deferred to re-introspection), or
// a clustered member's deferred roll (spec.md §4.F step 3).
func (c *Context) replace(ctx context.Context, p *packet.Packet, live *corev1.Pod, desired podmodel.Desired) packet.NextAction {
	if c.Identity.IsAdmin() {
		if desired.ReintrospectRequired {
			return packet.Advance(c.Reintrospect)
		}
		return c.deleteThenCreate(ctx, p, live)
	}
	return c.deferRoll(ctx, p, live)
}

// deleteThenCreate is the admin server's immediate replace path: delete
// then re-create, with no Roll Coordinator involvement (spec.md §4.F
// "For an administrative server... a roll is an immediate replace").
func (c *Context) deleteThenCreate(ctx context.Context, p *packet.Packet, live *corev1.Pod) packet.NextAction {
	grace := int64((c.ShutdownTimeout + c.Tuning.DeleteGracePeriodFudge).Seconds())
	deleteErr := fiber.RetryTransient(ctx, c.Tuning.RetryAttempts, c.Tuning.RetryBaseDelay, func() error {
		return p.K8s.Delete(ctx, live, client.GracePeriodSeconds(grace))
	})
	if deleteErr != nil && !apierrors.IsNotFound(deleteErr) {
		return packet.Throw(fiber.NewKernelError(classifyWrite(deleteErr), deleteErr))
	}

	return stepsync.AwaitWithTimeout(ctx, p, c.Tuning.DeleteTimeout,
		func(onSettled func()) { c.Watcher.WaitForDeleted(ctx, live.Name, onSettled) },
		func(ctx context.Context, p *packet.Packet, timedOut bool) packet.NextAction {
			if timedOut {
				return packet.Throw(fiber.NewKernelError(fiber.ErrKindWatchTimeout, fiber.ErrTimeoutExceeded))
			}
			return packet.Advance(c)
		},
	)
}

// deferRoll is a clustered member's two-phase replace: label now, hand the
// actual cycle off to the Roll Coordinator (spec.md §4.G steps 1-3).
func (c *Context) deferRoll(ctx context.Context, p *packet.Packet, live *corev1.Pod) packet.NextAction {
	if !domain.MarkedForRoll(live.Labels) {
		if err := markForRoll(ctx, p.K8s, live); err != nil && !apierrors.IsNotFound(err) {
			return packet.Throw(fiber.NewKernelError(classifyWrite(err), err))
		}
	}

	grace := c.ShutdownTimeout + c.Tuning.DeleteGracePeriodFudge
	p.AddRollRequest(packet.RollEntry{
		ServerName:  c.Identity.ServerName,
		ClusterName: c.Identity.ClusterName,
		Snapshot:    p.Copy(),
		Build: func(onDone packet.Step) packet.Step {
			return roll.NewCycleStep(c.Namespace, c.Identity.ServerName, grace, c.Tuning.DeleteTimeout,
				c.Tuning.RetryAttempts, c.Tuning.RetryBaseDelay, c.Watcher, c.WithNext(onDone))
		},
	})
	// The pod step surrenders control here; no further work happens for
	// this server until the Roll Coordinator drives it (spec.md §4.G step 3).
	return packet.Advance(c.next)
}

func classifyGet(err error) fiber.ErrorKind {
	switch {
	case apierrors.IsNotFound(err):
		return fiber.ErrKindNotFound
	case isTransient(err):
		return fiber.ErrKindTransientAPI
	default:
		return fiber.ErrKindInternal
	}
}

func classifyWrite(err error) fiber.ErrorKind {
	switch {
	case apierrors.IsNotFound(err):
		return fiber.ErrKindNotFound
	case apierrors.IsConflict(err), isTransient(err):
		return fiber.ErrKindTransientAPI
	default:
		return fiber.ErrKindInternal
	}
}

func isTransient(err error) bool {
	return apierrors.IsTooManyRequests(err) || apierrors.IsServerTimeout(err) ||
		apierrors.IsInternalError(err) || apierrors.IsServiceUnavailable(err) ||
		apierrors.IsTimeout(err)
}
