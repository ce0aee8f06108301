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

// Package podmodel describes the desired Kubernetes Pod object the kernel
// compares against the live cluster state. Translating WebLogic topology
// into a pod template is out of the kernel's scope (spec.md §1); this
// package only defines the shape a builder must yield and the stable
// content hash the kernel computes over it.
package podmodel

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Hashed is the subset of a pod's fields whose change forces a roll
// (spec.md §3 "Hashed fields"). Hash canonicalises via hashstructure, which
// treats Go maps order-independently; only the genuinely unordered slice
// fields (Volumes, VolumeMounts) are treated as sets — Command and Env stay
// order-sensitive, see hash.go.
type Hashed struct {
	Image               string
	Command             []string
	Env                 []corev1.EnvVar
	Resources           corev1.ResourceRequirements
	Volumes             []corev1.Volume
	VolumeMounts        []corev1.VolumeMount
	SecurityContext     *corev1.PodSecurityContext
	IdentityLabels      map[string]string
	IdentityAnnotations map[string]string
}

// NonHashed is the subset of a pod's fields that can change in place via
// PATCH without forcing a roll (spec.md §3 "Non-hashed fields").
type NonHashed struct {
	OwnerReferences  []metav1.OwnerReference
	RuntimeEnv       []corev1.EnvVar
	ProbeTimeouts    ProbeTimeouts
	ExtraLabels      map[string]string
	ExtraAnnotations map[string]string
}

// ProbeTimeouts carries the probe timing values derived from tuning that
// may change without affecting the hashed identity of the pod.
type ProbeTimeouts struct {
	ReadinessInitialDelaySeconds int32
	ReadinessPeriodSeconds       int32
	LivenessInitialDelaySeconds  int32
	LivenessPeriodSeconds        int32
}

// Desired is the full desired pod model yielded by a Builder: a pod object
// plus the partition the kernel needs to decide CREATE/PATCH/ROLL.
type Desired struct {
	Pod       *corev1.Pod
	Hashed    Hashed
	NonHashed NonHashed
	// ReintrospectRequired mirrors domain.ServerSpec.ReintrospectRequired,
	// carried here so the pod step doesn't need a second lookup.
	ReintrospectRequired bool
}

// Identity names the server a Builder is asked to build a pod for. It
// mirrors domain.Identity; callers construct it from a domain.Identity
// value to keep this package free of the rest of the kernel's wiring.
type Identity struct {
	DomainUID   string
	ClusterName string
	ServerName  string
}

// Builder yields the desired pod object and its hash partition for one
// server identity. The kernel only consumes this interface; translating
// WebLogic topology into pod templates lives in the (out-of-scope) operator
// layer above the kernel.
type Builder interface {
	Build(identity Identity) (Desired, error)
}
