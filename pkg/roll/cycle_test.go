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

package roll_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/packet"
	"github.com/oracle/weblogic-kernel/pkg/roll"
	"github.com/oracle/weblogic-kernel/pkg/watcher"
)

var _ = Describe("RollCycle", func() {
	var ctx context.Context
	var cancel context.CancelFunc
	var engine *fiber.Engine

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		engine = fiber.NewEngine(ctx, 2)
	})

	AfterEach(func() {
		cancel()
	})

	recreateRecorder := func() (*recorderStep, chan error) {
		done := make(chan error, 1)
		recreate := &recorderStep{name: "Recreate"}
		return recreate, done
	}

	runCycle := func(step packet.Step, p *packet.Packet, done chan error) {
		f := engine.CreateFiber(step, p, func(_ *packet.Packet, err error) { done <- err })
		engine.Submit(f)
	}

	It("advances straight to recreate when the pod is already gone", func() {
		k8s := fake.NewClientBuilder().Build()
		w := watcher.New(k8s, "ns1", time.Hour)
		recreate, done := recreateRecorder()

		step := roll.NewCycleStep("ns1", "srv1", 30*time.Second, time.Second, 1, time.Millisecond, w, recreate)
		runCycle(step, packet.New(nil, k8s), done)

		Eventually(done).Should(Receive(BeNil()))
		Expect(recreate.invoked).To(BeTrue())
	})

	It("deletes the live pod and recreates once the watcher observes it gone", func() {
		// A finalizer holds the object present after the cycle step's
		// delete call, so the fiber genuinely suspends on the watch
		// stream rather than resolving via WaitForDeleted's immediate
		// 404 fast path; removing the finalizer lets the fake client's
		// delete actually complete and emit a Deleted watch event.
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
			Name: "srv1", Namespace: "ns1",
			Finalizers: []string{"weblogic.oracle/test-hold"},
		}}
		k8s := fake.NewClientBuilder().WithObjects(pod).Build()
		w := watcher.New(k8s, "ns1", time.Hour)
		go w.Start(ctx)

		recreate, done := recreateRecorder()
		step := roll.NewCycleStep("ns1", "srv1", 0, 3*time.Second, 1, time.Millisecond, w, recreate)
		runCycle(step, packet.New(nil, k8s), done)

		Eventually(func() error {
			var live corev1.Pod
			if err := k8s.Get(ctx, client.ObjectKey{Namespace: "ns1", Name: "srv1"}, &live); err != nil {
				return err
			}
			if live.DeletionTimestamp == nil {
				return errors.New("not yet marked for deletion")
			}
			live.Finalizers = nil
			return k8s.Update(ctx, &live)
		}, time.Second, 5*time.Millisecond).Should(Succeed())

		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
		Expect(recreate.invoked).To(BeTrue())
	})

	It("throws a WatchTimeout kernel error when deletion is never confirmed", func() {
		pod := &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name: "srv1", Namespace: "ns1",
				Finalizers: []string{"weblogic.oracle/test-hold"},
			},
		}
		k8s := fake.NewClientBuilder().WithObjects(pod).Build()
		// No watcher.Start: the deleted waiter this cycle registers is
		// never resolved by a watch event, and the finalizer keeps the
		// object present so the initial GET inside WaitForDeleted never
		// short-circuits with a 404 either.
		w := watcher.New(k8s, "ns1", time.Hour)

		recreate, done := recreateRecorder()
		step := roll.NewCycleStep("ns1", "srv1", 0, 20*time.Millisecond, 1, time.Millisecond, w, recreate)
		runCycle(step, packet.New(nil, k8s), done)

		Eventually(done, time.Second).Should(Receive(WithTransform(func(err error) bool {
			var kerr *fiber.KernelError
			return errors.As(err, &kerr) && kerr.Kind == fiber.ErrKindWatchTimeout
		}, BeTrue())))
		Expect(recreate.invoked).To(BeFalse())
	})
})

// recorderStep is a terminal step that records whether it ran.
type recorderStep struct {
	name    string
	invoked bool
}

func (r *recorderStep) StepName() string  { return r.name }
func (r *recorderStep) Next() packet.Step { return nil }
func (r *recorderStep) Execute(ctx context.Context, p *packet.Packet) packet.NextAction {
	r.invoked = true
	return packet.Terminate()
}
