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

// Package roll implements the Roll Coordinator: given a set of cluster
// members flagged for replacement, it cycles them one at a time respecting
// readiness gates and a per-cluster maxUnavailable budget (spec.md §4.G).
package roll

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
	"github.com/oracle/weblogic-kernel/pkg/stepsync"
	"github.com/oracle/weblogic-kernel/pkg/watcher"
)

// cycleStep deletes one server's live pod with an extended grace period,
// awaits the watcher observing its removal, then hands off to recreate
// (ordinarily the same Pod Step Context that requested the roll, re-entered
// at its READ phase so it naturally falls into CREATE).
type cycleStep struct {
	namespace     string
	serverName    string
	gracePeriod   time.Duration
	deleteTimeout time.Duration
	retryAttempts uint
	retryDelay    time.Duration
	watcher       *watcher.Watcher
	recreate      packet.Step
}

// NewCycleStep builds the deferred roll step for one server. recreate is
// the step to re-enter once the old pod is confirmed gone — passing the
// originating Pod Step Context back in makes the replacement follow the
// exact same READ→CREATE decision the kernel already knows how to make.
func NewCycleStep(namespace, serverName string, gracePeriod, deleteTimeout time.Duration, retryAttempts uint, retryDelay time.Duration, w *watcher.Watcher, recreate packet.Step) packet.Step {
	return &cycleStep{
		namespace:     namespace,
		serverName:    serverName,
		gracePeriod:   gracePeriod,
		deleteTimeout: deleteTimeout,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		watcher:       w,
		recreate:      recreate,
	}
}

func (c *cycleStep) StepName() string  { return "RollCycle:" + c.serverName }
func (c *cycleStep) Next() packet.Step { return c.recreate }

func (c *cycleStep) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	var pod corev1.Pod
	err := p.K8s.Get(ctx, client.ObjectKey{Namespace: c.namespace, Name: c.serverName}, &pod)
	if apierrors.IsNotFound(err) {
		// Already gone — nothing to delete, proceed straight to recreate.
		return packet.Advance(c.recreate)
	}
	if err != nil {
		return packet.Throw(fiber.NewKernelError(fiber.ErrKindTransientAPI, err))
	}

	grace := int64(c.gracePeriod.Seconds())
	deleteErr := fiber.RetryTransient(ctx, c.retryAttempts, c.retryDelay, func() error {
		return p.K8s.Delete(ctx, &pod, client.GracePeriodSeconds(grace))
	})
	if deleteErr != nil && !apierrors.IsNotFound(deleteErr) {
		return packet.Throw(fiber.NewKernelError(fiber.ErrKindTransientAPI, deleteErr))
	}

	return stepsync.AwaitWithTimeout(ctx, p, c.deleteTimeout,
		func(onSettled func()) {
			c.watcher.WaitForDeleted(ctx, c.serverName, onSettled)
		},
		func(ctx context.Context, p *packet.Packet, timedOut bool) packet.NextAction {
			if timedOut {
				return packet.Throw(fiber.NewKernelError(fiber.ErrKindWatchTimeout, fiber.ErrTimeoutExceeded))
			}
			return packet.Advance(c.recreate)
		},
	)
}
