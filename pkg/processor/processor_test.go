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

package processor_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/oracle/weblogic-kernel/pkg/config"
	"github.com/oracle/weblogic-kernel/pkg/domain"
	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/gate"
	"github.com/oracle/weblogic-kernel/pkg/podmodel"
	"github.com/oracle/weblogic-kernel/pkg/processor"
	"github.com/oracle/weblogic-kernel/pkg/watcher"
)

type stubBuilder struct{}

func (stubBuilder) Build(id podmodel.Identity) (podmodel.Desired, error) {
	return podmodel.Desired{
		Pod: &corev1.Pod{
			Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "weblogic", Image: "v1"}}},
		},
		Hashed: podmodel.Hashed{Image: "v1"},
	}, nil
}

// markReady polls until podName exists in c, then patches its status to
// Running+Ready, simulating a kubelet report arriving over the watch the
// test's Watcher consumes.
func markReady(ctx context.Context, c client.Client, namespace, podName string) {
	Eventually(func() error {
		var pod corev1.Pod
		if err := c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: podName}, &pod); err != nil {
			return err
		}
		pod.Status = corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		}
		return c.Status().Update(ctx, &pod)
	}, 5*time.Second, 10*time.Millisecond).Should(Succeed())
}

var _ = Describe("DomainProcessor", func() {
	var ctx context.Context
	var cancel context.CancelFunc
	var k8s client.Client
	var proc *processor.Processor

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		k8s = fake.NewClientBuilder().WithStatusSubresource(&corev1.Pod{}).Build()
		w := watcher.New(k8s, "ns1", time.Hour)
		go w.Start(ctx)

		tuning := config.DefaultTuning()
		tuning.ReadyTimeout = 3 * time.Second
		tuning.DeleteTimeout = 3 * time.Second
		tuning.RetryBaseDelay = 5 * time.Millisecond

		engine := fiber.NewEngine(ctx, 4)
		g := gate.New()
		chainBuilder := processor.NewDefaultChainBuilder("ns1", stubBuilder{}, w, tuning)
		proc = processor.New(engine, g, k8s, chainBuilder)
	})

	AfterEach(func() {
		proc.Shutdown(time.Second)
		cancel()
	})

	It("creates the admin pod and completes once it reports ready", func() {
		snapshot := &domain.Snapshot{DomainUID: "dom1", Namespace: "ns1", Admin: domain.ServerSpec{Name: "admin-server"}}
		future := proc.Submit(snapshot)

		go markReady(ctx, k8s, "ns1", "admin-server")

		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer waitCancel()
		_, err := future.Wait(waitCtx)
		Expect(err).NotTo(HaveOccurred())

		_, ok := proc.Snapshot()["ns1/dom1"]
		Expect(ok).To(BeFalse())
	})

	It("reports an in-flight fiber via Snapshot before it completes", func() {
		snapshot := &domain.Snapshot{DomainUID: "dom2", Namespace: "ns1", Admin: domain.ServerSpec{Name: "admin-server"}}
		future := proc.Submit(snapshot)

		Eventually(func() string {
			return proc.Snapshot()["ns1/dom2"].FiberID
		}, 2*time.Second, 5*time.Millisecond).ShouldNot(BeEmpty())

		markReady(ctx, k8s, "ns1", "admin-server")
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer waitCancel()
		_, err := future.Wait(waitCtx)
		Expect(err).NotTo(HaveOccurred())
	})
})
