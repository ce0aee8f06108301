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

package fiber_test

import (
	"context"

	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// funcStep adapts a plain function into a packet.Step for tests, the way
// podstep/roll's real steps are shaped, without pulling in those packages.
type funcStep struct {
	name string
	run  func(ctx context.Context, p *packet.Packet) packet.NextAction
	next packet.Step
}

func (f *funcStep) StepName() string  { return f.name }
func (f *funcStep) Next() packet.Step { return f.next }
func (f *funcStep) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	return f.run(ctx, p)
}

// blockStep blocks until release is closed, then advances to next; if ctx
// is cancelled first, it throws ctx.Err().
type blockStep struct {
	name    string
	release chan struct{}
	next    packet.Step
	ran     chan struct{}
}

func (b *blockStep) StepName() string  { return b.name }
func (b *blockStep) Next() packet.Step { return b.next }
func (b *blockStep) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	select {
	case <-b.release:
		if b.ran != nil {
			close(b.ran)
		}
		return packet.Advance(b.next)
	case <-ctx.Done():
		return packet.Throw(ctx.Err())
	}
}
