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

package watcher

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newTestWatcher() *Watcher {
	c := fake.NewClientBuilder().Build()
	return New(c, "ns1", time.Hour)
}

func readyPod(name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "ns1"},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
}

var _ = Describe("Watcher", func() {
	var w *Watcher

	BeforeEach(func() {
		w = newTestWatcher()
	})

	It("fires onReady for a ready pod", func() {
		fired := make(chan *corev1.Pod, 1)
		w.WaitForReady("srv-1", func(p *corev1.Pod) { fired <- p }, func(p *corev1.Pod) { Fail("onFailed should not fire") })

		w.observe(readyPod("srv-1"))

		Eventually(fired).Should(Receive(WithTransform(func(p *corev1.Pod) string { return p.Name }, Equal("srv-1"))))
	})

	It("fires onFailed for a Failed-phase pod", func() {
		var failedFired bool
		w.WaitForReady("srv-1", func(p *corev1.Pod) { Fail("onReady should not fire") }, func(p *corev1.Pod) { failedFired = true })

		w.observe(&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "srv-1", Namespace: "ns1"},
			Status:     corev1.PodStatus{Phase: corev1.PodFailed},
		})

		Expect(failedFired).To(BeTrue())
	})

	It("fires a waiter only once", func() {
		var count int
		w.WaitForReady("srv-1", func(p *corev1.Pod) { count++ }, nil)

		w.observe(readyPod("srv-1"))
		w.observe(readyPod("srv-1")) // second observation: no waiter left, must not re-fire

		Expect(count).To(Equal(1))
	})

	It("fires onDeleted on a delete event", func() {
		c := fake.NewClientBuilder().WithObjects(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "srv-1", Namespace: "ns1"}}).Build()
		w.client = c

		fired := make(chan struct{}, 1)
		w.WaitForDeleted(context.Background(), "srv-1", func() { fired <- struct{}{} })

		w.fireDeleted("srv-1")

		Eventually(fired).Should(Receive())
	})

	It("fires onDeleted immediately when the pod is already gone", func() {
		var fired bool
		w.WaitForDeleted(context.Background(), "missing", func() { fired = true })
		Expect(fired).To(BeTrue())
	})
})
