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

package roll

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/oracle/weblogic-kernel/pkg/domain"
	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// Coordinator is the step placed after every per-server pod step in a
// domain's chain. It drains whatever deferred roll requests those steps
// accumulated, selects as many as the not-ready budget of each cluster
// allows, and splices them into one sequential sub-chain so that at most
// one replacement per cluster is ever in flight within this fiber (spec.md
// §4.G). Each selected entry already carries its own cycle step builder
// (produced by the pod step that deferred it), so the Coordinator itself
// needs no Kubernetes write access beyond the readiness count it lists.
type Coordinator struct {
	next packet.Step
}

// NewCoordinator builds a Roll Coordinator step whose chain successor is
// next once every selected roll completes (or once there is nothing to
// roll).
func NewCoordinator(next packet.Step) *Coordinator {
	return &Coordinator{next: next}
}

func (c *Coordinator) StepName() string  { return "RollCoordinator" }
func (c *Coordinator) Next() packet.Step { return c.next }

func (c *Coordinator) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	entries := p.DrainRollRequests()
	if len(entries) == 0 {
		return packet.Advance(c.next)
	}

	byCluster := lo.GroupBy(lo.Values(entries), func(e packet.RollEntry) string { return e.ClusterName })

	var selected []packet.RollEntry
	var listErrs error
	for clusterName, clusterEntries := range byCluster {
		cluster, ok := p.Domain.ClusterByName(clusterName)
		if !ok {
			continue
		}
		notReady, err := c.countNotReady(ctx, p, clusterName)
		if err != nil {
			// A transient list failure on one cluster must not block
			// rolling the others this round; every cluster's failure
			// is collected and only thrown once all have been tried.
			listErrs = multierr.Append(listErrs, fmt.Errorf("cluster %s: %w", clusterName, err))
			continue
		}
		budget := int(cluster.MaxUnavailable) - notReady
		if budget <= 0 {
			// No budget left this round; these servers stay labeled
			// to-be-rolled and are picked back up by the next
			// reconciliation (spec.md §3 invariant 3).
			continue
		}

		sort.Slice(clusterEntries, func(i, j int) bool { return clusterEntries[i].ServerName < clusterEntries[j].ServerName })
		if len(clusterEntries) > budget {
			clusterEntries = clusterEntries[:budget]
		}
		selected = append(selected, clusterEntries...)
	}

	next := c.next
	if listErrs != nil {
		// Roll what the other clusters selected first, then fail the fiber.
		next = packet.NewFunc("RollListFailure", nil, func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Throw(fiber.NewKernelError(fiber.ErrKindTransientAPI, listErrs))
		})
	}

	if len(selected) == 0 {
		return packet.Advance(next)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].ServerName < selected[j].ServerName })

	chain := next
	for i := len(selected) - 1; i >= 0; i-- {
		chain = selected[i].Build(chain)
	}
	return packet.Advance(chain)
}

func (c *Coordinator) countNotReady(ctx context.Context, p *packet.Packet, clusterName string) (int, error) {
	var pods corev1.PodList
	err := p.K8s.List(ctx, &pods,
		client.InNamespace(p.Domain.Namespace),
		client.MatchingLabels{domain.LabelDomainUID: p.Domain.DomainUID, domain.LabelClusterName: clusterName},
	)
	if err != nil {
		return 0, err
	}
	return lo.CountBy(pods.Items, func(pod corev1.Pod) bool { return !isPodReady(pod) }), nil
}

func isPodReady(pod corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
