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
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
)

var _ = Describe("Engine", func() {
	var ctx context.Context
	var cancel context.CancelFunc

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	It("never runs more fibers concurrently than its worker limit", func() {
		const workers = 2
		engine := fiber.NewEngine(ctx, workers)

		var inFlight int32
		var maxSeen int32
		release := make(chan struct{})
		var remaining int32 = 5

		terminal := &funcStep{name: "terminal", run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
			return packet.Terminate()
		}}

		makeStep := func() *funcStep {
			return &funcStep{name: "work", next: terminal, run: func(ctx context.Context, p *packet.Packet) packet.NextAction {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&inFlight, -1)
				return packet.Advance(terminal)
			}}
		}

		done := make(chan error, remaining)
		for i := int32(0); i < remaining; i++ {
			f := engine.CreateFiber(makeStep(), packet.New(nil, nil), func(p *packet.Packet, err error) { done <- err })
			engine.Submit(f)
		}

		Eventually(func() int32 { return atomic.LoadInt32(&inFlight) }).Should(Equal(int32(workers)))
		Consistently(func() int32 { return atomic.LoadInt32(&maxSeen) }, 50*time.Millisecond).Should(BeNumerically("<=", workers))

		close(release)
		for i := int32(0); i < remaining; i++ {
			Eventually(done).Should(Receive(BeNil()))
		}
	})

	It("runs a Schedule task once after the delay elapses", func() {
		engine := fiber.NewEngine(ctx, 2)
		fired := make(chan struct{})
		engine.Schedule(func() { close(fired) }, 20*time.Millisecond)

		Consistently(fired, 5*time.Millisecond).ShouldNot(BeClosed())
		Eventually(fired, time.Second).Should(BeClosed())
	})

	It("runs a ScheduleAtFixedRate task repeatedly until shutdown", func() {
		engine := fiber.NewEngine(ctx, 2)
		var count int32
		engine.ScheduleAtFixedRate(func() { atomic.AddInt32(&count, 1) }, 10*time.Millisecond, 10*time.Millisecond)

		Eventually(func() int32 { return atomic.LoadInt32(&count) }, time.Second).Should(BeNumerically(">=", 3))
	})

	It("cancels in-flight fibers on Shutdown within the grace period", func() {
		engine := fiber.NewEngine(ctx, 2)
		release := make(chan struct{})
		blocking := &blockStep{name: "blocking", release: release}

		done := make(chan error, 1)
		f := engine.CreateFiber(blocking, packet.New(nil, nil), func(p *packet.Packet, err error) { done <- err })
		engine.Submit(f)

		time.Sleep(10 * time.Millisecond)

		shutdownDone := make(chan struct{})
		go func() {
			engine.Shutdown(2 * time.Second)
			close(shutdownDone)
		}()

		Eventually(shutdownDone, time.Second).Should(BeClosed())
		close(release)
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})
})
