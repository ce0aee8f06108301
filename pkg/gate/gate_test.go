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

package gate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/gate"
	"github.com/oracle/weblogic-kernel/pkg/packet"
)

// blockingStep blocks inside Execute until release is closed, then advances
// to next; if ctx is cancelled first, it throws ctx.Err().
type blockingStep struct {
	release chan struct{}
	ran     *atomic.Bool
	next    packet.Step
}

func (b *blockingStep) StepName() string  { return "blocking" }
func (b *blockingStep) Next() packet.Step { return b.next }
func (b *blockingStep) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	select {
	case <-b.release:
		b.ran.Store(true)
		return packet.Advance(b.next)
	case <-ctx.Done():
		return packet.Throw(ctx.Err())
	}
}

type terminalStep struct{ ran *atomic.Bool }

func (t *terminalStep) StepName() string  { return "terminal" }
func (t *terminalStep) Next() packet.Step { return nil }
func (t *terminalStep) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	t.ran.Store(true)
	return packet.Terminate()
}

var _ = Describe("Gate", func() {
	var e *fiber.Engine
	var g *gate.Gate

	BeforeEach(func() {
		e = fiber.NewEngine(context.Background(), 8)
		g = gate.New()
	})

	It("cancels the previous fiber for the same key and runs the new one", func() {
		var oldRan, newRan atomic.Bool
		release := make(chan struct{}) // closed after the second Start: the old fiber stops at its next step boundary
		oldStep := &blockingStep{release: release, ran: &oldRan, next: &terminalStep{ran: &oldRan}}

		var wg sync.WaitGroup
		wg.Add(1)
		g.Start("ns/domain1", oldStep, packet.New(nil, nil), e, func(p *packet.Packet, err error) {
			defer wg.Done()
			Expect(fiber.IsCancelled(err)).To(BeTrue())
		})

		// Give the old fiber a moment to actually reach its blocking step.
		time.Sleep(20 * time.Millisecond)

		newStep := &terminalStep{ran: &newRan}
		var wg2 sync.WaitGroup
		wg2.Add(1)
		g.Start("ns/domain1", newStep, packet.New(nil, nil), e, func(p *packet.Packet, err error) {
			defer wg2.Done()
			Expect(err).NotTo(HaveOccurred())
		})
		close(release)

		wg.Wait()
		wg2.Wait()

		Expect(newRan.Load()).To(BeTrue())
	})

	It("no-ops StartIfNoCurrent when the key is occupied", func() {
		release := make(chan struct{})
		var ran atomic.Bool
		step := &blockingStep{release: release, ran: &ran, next: &terminalStep{ran: &ran}}
		g.Start("k", step, packet.New(nil, nil), e, nil)
		time.Sleep(20 * time.Millisecond)

		var secondRan atomic.Bool
		f := g.StartIfNoCurrent("k", &terminalStep{ran: &secondRan}, packet.New(nil, nil), e, nil)
		Expect(f).To(BeNil())

		close(release)
		time.Sleep(20 * time.Millisecond)
		Expect(secondRan.Load()).To(BeFalse())
	})

	It("keeps at most one fiber per key under concurrent Start calls", func() {
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			var ran atomic.Bool
			g.Start("contended", &terminalStep{ran: &ran}, packet.New(nil, nil), e, func(p *packet.Packet, err error) {
				wg.Done()
			})
		}
		wg.Wait()

		_, ok := g.Current("contended")
		Expect(ok).To(BeFalse())
	})
})
