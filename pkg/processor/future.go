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

	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// CompletionFuture is the handle spec.md §6's submit(domainSnapshot) →
// CompletionFuture returns: a one-shot signal for the fiber's terminal
// packet and error, safe to hand to a caller that wants to block on a
// specific submission rather than poll Snapshot().
type CompletionFuture struct {
	done   chan struct{}
	packet *packet.Packet
	err    error
}

func newCompletionFuture() *CompletionFuture {
	return &CompletionFuture{done: make(chan struct{})}
}

// complete resolves the future exactly once; it is invoked from the
// fiber's own completion callback.
func (f *CompletionFuture) complete(p *packet.Packet, err error) {
	f.packet = p
	f.err = err
	close(f.done)
}

// Wait blocks until the fiber completes or ctx is cancelled, whichever
// happens first.
func (f *CompletionFuture) Wait(ctx context.Context) (*packet.Packet, error) {
	select {
	case <-f.done:
		return f.packet, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the underlying channel for select-based callers.
func (f *CompletionFuture) Done() <-chan struct{} { return f.done }
