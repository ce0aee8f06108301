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

package processor

import (
	"context"

	"github.com/oracle/weblogic-kernel/pkg/config"
	"github.com/oracle/weblogic-kernel/pkg/domain"
	"github.com/oracle/weblogic-kernel/pkg/packet"
	"github.com/oracle/weblogic-kernel/pkg/podmodel"
	"github.com/oracle/weblogic-kernel/pkg/podstep"
	"github.com/oracle/weblogic-kernel/pkg/roll"
	"github.com/oracle/weblogic-kernel/pkg/status"
	"github.com/oracle/weblogic-kernel/pkg/watcher"
)

// NewDefaultChainBuilder assembles the chain admin-pod step → managed-pod
// steps → Roll Coordinator → Terminate. There is no separate await-ready
// step: each pod step awaits its own pod's readiness after a create. builder
// translates a server identity into a desired pod (out of kernel scope,
// spec.md §1); everything else here is kernel wiring.
func NewDefaultChainBuilder(namespace string, builder podmodel.Builder, w *watcher.Watcher, tuning config.Tuning) ChainBuilder {
	return func(snapshot *domain.Snapshot) packet.Step {
		terminal := packet.NewFunc("Terminate", nil, func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Terminate()
		})

		chain := packet.Step(roll.NewCoordinator(terminal))

		identities := snapshot.ServerIdentities()
		for i := len(identities) - 1; i >= 0; i-- {
			id := identities[i]
			spec, _ := snapshot.ServerSpecByIdentity(id)

			var reintrospect packet.Step
			if id.IsAdmin() {
				reintrospect = packet.NewFunc("Reintrospect:"+id.ServerName, nil, func(ctx context.Context, p *packet.Packet) packet.NextAction {
					return packet.Throw(status.ErrReintrospectRequired)
				})
			}

			chain = podstep.New(id, namespace, spec.ShutdownTimeout, builder, w, tuning, reintrospect, chain)
		}

		return chain
	}
}
