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

// Package watcher bridges a Kubernetes pod watch stream to fiber suspension:
// it lets a step register "wake me when pod X is ready" or "wake me when pod
// X is gone" and resolves those registrations as watch events (or periodic
// resync) observe them (spec.md §4.H).
package watcher

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// readyWaiter is one registration against WaitForReady.
type readyWaiter struct {
	onReady  func(*corev1.Pod)
	onFailed func(*corev1.Pod)
}

// Watcher consumes a watch stream scoped to one namespace and resolves
// waiters registered by pod steps. The per-pod-name waiter lists are the
// only state the Watcher reads: a waiter is removed from its list when it
// fires, so neither a later watch event nor a resync invokes it twice. The
// go-cache instance records the last phase observed per pod; nothing reads
// it back.
type Watcher struct {
	client    client.WithWatch
	namespace string
	resync    time.Duration

	mu             sync.Mutex
	readyWaiters   map[string][]readyWaiter
	deletedWaiters map[string][]func()

	lastPhase *gocache.Cache
}

// New builds a Watcher. c must support Watch (constructed via
// client.NewWithWatch by the binary's wiring); namespace scopes every list
// and watch call; resync is the re-list interval that reconciles missed
// watch events (spec.md §4.H "Resync").
func New(c client.WithWatch, namespace string, resync time.Duration) *Watcher {
	return &Watcher{
		client:         c,
		namespace:      namespace,
		resync:         resync,
		readyWaiters:   make(map[string][]readyWaiter),
		deletedWaiters: make(map[string][]func()),
		lastPhase:      gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// WaitForReady registers onReady to fire once podName reaches
// phase=Running with a Ready=True condition, or onFailed if it reaches
// phase=Failed first (spec.md §4.H). Either callback fires at most once per
// registration.
func (w *Watcher) WaitForReady(podName string, onReady func(*corev1.Pod), onFailed func(*corev1.Pod)) {
	w.mu.Lock()
	w.readyWaiters[podName] = append(w.readyWaiters[podName], readyWaiter{onReady: onReady, onFailed: onFailed})
	w.mu.Unlock()
}

// WaitForDeleted registers onDeleted to fire once podName is observed
// DELETED by the watch stream, or immediately if an initial GET returns 404.
func (w *Watcher) WaitForDeleted(ctx context.Context, podName string, onDeleted func()) {
	var pod corev1.Pod
	err := w.client.Get(ctx, client.ObjectKey{Namespace: w.namespace, Name: podName}, &pod)
	if apierrors.IsNotFound(err) {
		onDeleted()
		return
	}
	w.mu.Lock()
	w.deletedWaiters[podName] = append(w.deletedWaiters[podName], onDeleted)
	w.mu.Unlock()
}

// Start runs the watch loop and resync ticker until ctx is cancelled. It
// reconnects the watch stream on termination rather than returning, the way
// a long-lived controller process is expected to.
func (w *Watcher) Start(ctx context.Context) {
	log := logf.FromContext(ctx).WithName("podwatcher")
	go w.resyncLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := w.watchOnce(ctx); err != nil {
			log.Error(err, "pod watch ended, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (w *Watcher) watchOnce(ctx context.Context) error {
	var podList corev1.PodList
	wi, err := w.client.Watch(ctx, &podList, client.InNamespace(w.namespace))
	if err != nil {
		return err
	}
	defer wi.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-wi.ResultChan():
			if !ok {
				return nil
			}
			w.handleEvent(event)
		}
	}
}

func (w *Watcher) handleEvent(event watch.Event) {
	pod, ok := event.Object.(*corev1.Pod)
	if !ok {
		return
	}
	switch event.Type {
	case watch.Deleted:
		w.lastPhase.Delete(pod.Name)
		w.fireDeleted(pod.Name)
	case watch.Added, watch.Modified:
		w.observe(pod)
	}
}

// observe evaluates one pod's current state against the registered ready
// waiters and fires whichever apply. Used identically by the watch loop and
// the resync scan.
func (w *Watcher) observe(pod *corev1.Pod) {
	w.lastPhase.Set(pod.Name, pod.Status.Phase, gocache.DefaultExpiration)

	switch {
	case pod.Status.Phase == corev1.PodFailed:
		w.fireFailed(pod)
	case pod.Status.Phase == corev1.PodRunning && isPodReady(pod):
		w.fireReady(pod)
	}
}

func isPodReady(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

func (w *Watcher) fireReady(pod *corev1.Pod) {
	w.mu.Lock()
	waiters := w.readyWaiters[pod.Name]
	delete(w.readyWaiters, pod.Name)
	w.mu.Unlock()

	// Invoked outside the lock: callbacks resume fibers, which may
	// re-register new waiters synchronously (spec.md §4.H "pop and invoke
	// all matching waiters outside any internal lock").
	for _, waiter := range waiters {
		if waiter.onReady != nil {
			waiter.onReady(pod)
		}
	}
}

func (w *Watcher) fireFailed(pod *corev1.Pod) {
	w.mu.Lock()
	waiters := w.readyWaiters[pod.Name]
	delete(w.readyWaiters, pod.Name)
	w.mu.Unlock()

	for _, waiter := range waiters {
		if waiter.onFailed != nil {
			waiter.onFailed(pod)
		}
	}
}

func (w *Watcher) fireDeleted(podName string) {
	w.mu.Lock()
	waiters := w.deletedWaiters[podName]
	delete(w.deletedWaiters, podName)
	w.mu.Unlock()

	for _, onDeleted := range waiters {
		onDeleted()
	}
}

// resyncLoop periodically re-lists every pod this Watcher has an open
// waiter for, reconciling events a dropped watch connection may have
// missed.
func (w *Watcher) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(w.resync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.resyncOnce(ctx)
		}
	}
}

func (w *Watcher) resyncOnce(ctx context.Context) {
	w.mu.Lock()
	pending := make([]string, 0, len(w.readyWaiters)+len(w.deletedWaiters))
	seen := make(map[string]bool)
	for name := range w.readyWaiters {
		if !seen[name] {
			seen[name] = true
			pending = append(pending, name)
		}
	}
	for name := range w.deletedWaiters {
		if !seen[name] {
			seen[name] = true
			pending = append(pending, name)
		}
	}
	w.mu.Unlock()

	for _, name := range pending {
		var pod corev1.Pod
		var err error
		retryErr := retry.OnError(retry.DefaultBackoff, apierrors.IsServerTimeout, func() error {
			err = w.client.Get(ctx, client.ObjectKey{Namespace: w.namespace, Name: name}, &pod)
			return err
		})
		if retryErr != nil && apierrors.IsNotFound(retryErr) {
			w.fireDeleted(name)
			continue
		}
		if retryErr != nil {
			continue
		}
		if pod.DeletionTimestamp != nil {
			continue
		}
		w.observe(&pod)
	}
}
