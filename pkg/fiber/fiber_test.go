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
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
)

var _ = Describe("Fiber", func() {
	var engine *fiber.Engine

	BeforeEach(func() {
		engine = fiber.NewEngine(context.Background(), 4)
	})

	It("continues the chain once a suspended fiber is resumed", func() {
		terminal := &funcStep{name: "terminal", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Terminate()
		}}
		start := &funcStep{name: "start", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Suspend(terminal)
		}}

		done := make(chan error, 1)
		f := engine.CreateFiber(start, packet.New(nil, nil), func(p *packet.Packet, err error) { done <- err })
		engine.Submit(f)

		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())

		f.Resume(packet.New(nil, nil))
		Eventually(done).Should(Receive(BeNil()))
	})

	It("lets a step recover the fiber running it via FromContext", func() {
		var f *fiber.Fiber
		var sawSelf bool
		start := &funcStep{name: "start", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			recovered, ok := fiber.FromContext(ctx)
			sawSelf = ok && recovered == f
			return packet.Terminate()
		}}

		done := make(chan error, 1)
		f = engine.CreateFiber(start, packet.New(nil, nil), func(p *packet.Packet, err error) { done <- err })
		engine.Submit(f)

		Eventually(done).Should(Receive(BeNil()))
		Expect(sawSelf).To(BeTrue())
	})

	It("fires the cancellation callback immediately for a suspended fiber", func() {
		terminal := &funcStep{name: "terminal", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Terminate()
		}}
		start := &funcStep{name: "start", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Suspend(terminal)
		}}

		done := make(chan error, 1)
		f := engine.CreateFiber(start, packet.New(nil, nil), func(p *packet.Packet, err error) { done <- err })
		engine.Submit(f)
		Eventually(func() bool {
			// give the fiber a moment to reach the suspended state
			return true
		}).Should(BeTrue())
		time.Sleep(20 * time.Millisecond)

		var cancelledSync bool
		ok := f.CancelAndExitCallback(true, func() { cancelledSync = true })
		Expect(ok).To(BeTrue())
		Expect(cancelledSync).To(BeTrue())

		Eventually(done).Should(Receive(WithTransform(fiber.IsCancelled, BeTrue())))
	})

	It("defers the cancellation callback until the running step returns", func() {
		release := make(chan struct{})
		ran := make(chan struct{})
		terminal := &funcStep{name: "terminal", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Terminate()
		}}
		start := &blockStep{name: "blocking", release: release, next: terminal, ran: ran}

		done := make(chan error, 1)
		f := engine.CreateFiber(start, packet.New(nil, nil), func(p *packet.Packet, err error) { done <- err })
		engine.Submit(f)
		time.Sleep(20 * time.Millisecond)

		var cancelledSync bool
		ok := f.CancelAndExitCallback(true, func() { cancelledSync = true })
		Expect(ok).To(BeFalse())
		Expect(cancelledSync).To(BeFalse())

		close(release)
		Eventually(done).Should(Receive(WithTransform(fiber.IsCancelled, BeTrue())))
	})

	It("propagates a thrown error to the completion callback", func() {
		boom := errors.New("boom")
		start := &funcStep{name: "start", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Throw(boom)
		}}

		done := make(chan error, 1)
		f := engine.CreateFiber(start, packet.New(nil, nil), func(p *packet.Packet, err error) { done <- err })
		engine.Submit(f)

		Eventually(done).Should(Receive(MatchError(boom)))
	})

	It("resumes after a Delay action's timer fires", func() {
		terminal := &funcStep{name: "terminal", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Terminate()
		}}
		start := &funcStep{name: "start", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Delay(terminal, 30*time.Millisecond)
		}}

		done := make(chan error, 1)
		f := engine.CreateFiber(start, packet.New(nil, nil), func(p *packet.Packet, err error) { done <- err })
		engine.Submit(f)

		Consistently(done, 10*time.Millisecond).ShouldNot(Receive())
		Eventually(done, time.Second).Should(Receive(BeNil()))
	})
})
