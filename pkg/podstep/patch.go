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

package podstep

import (
	"context"
	"encoding/json"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/oracle/weblogic-kernel/pkg/domain"
	"github.com/oracle/weblogic-kernel/pkg/podmodel"
)

// patchOp is one RFC 6902 JSON-Patch operation. JSON-Merge-Patch is
// forbidden by spec.md §6 (it would silently null server-defaulted fields
// on omission), so every write that isn't a full CREATE goes through a
// hand-built list of these.
type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

func escapeJSONPointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func applyJSONPatch(ctx context.Context, c client.Client, obj client.Object, ops []patchOp) error {
	if len(ops) == 0 {
		return nil
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	return c.Patch(ctx, obj, client.RawPatch(types.JSONPatchType, raw))
}

// markForRoll idempotently adds the to-be-rolled label via JSON-Patch.
func markForRoll(ctx context.Context, c client.Client, live *corev1.Pod) error {
	op := patchOp{Op: "add", Path: "/metadata/labels/" + escapeJSONPointer(domain.LabelToBeRolled), Value: "true"}
	if live.Labels == nil {
		return applyJSONPatch(ctx, c, live, []patchOp{
			{Op: "add", Path: "/metadata/labels", Value: map[string]string{}},
			op,
		})
	}
	return applyJSONPatch(ctx, c, live, []patchOp{op})
}

// nonHashedPatch computes the JSON-Patch operations needed to bring live's
// non-hashed overlay (labels, annotations, owner references) in line with
// desired, without touching anything that participates in the pod hash
// (spec.md §4.F step 3 "compare the non-hashed overlay").
func nonHashedPatch(live *corev1.Pod, desired podmodel.Desired) []patchOp {
	var ops []patchOp

	if len(desired.NonHashed.ExtraLabels) > 0 && live.Labels == nil {
		ops = append(ops, patchOp{Op: "add", Path: "/metadata/labels", Value: map[string]string{}})
	}
	for k, v := range desired.NonHashed.ExtraLabels {
		if live.Labels[k] != v {
			ops = append(ops, patchOp{Op: "add", Path: "/metadata/labels/" + escapeJSONPointer(k), Value: v})
		}
	}

	if len(desired.NonHashed.ExtraAnnotations) > 0 && live.Annotations == nil {
		ops = append(ops, patchOp{Op: "add", Path: "/metadata/annotations", Value: map[string]string{}})
	}
	for k, v := range desired.NonHashed.ExtraAnnotations {
		if live.Annotations[k] != v {
			ops = append(ops, patchOp{Op: "add", Path: "/metadata/annotations/" + escapeJSONPointer(k), Value: v})
		}
	}

	if !ownerReferencesEqual(live.OwnerReferences, desired.NonHashed.OwnerReferences) {
		ops = append(ops, patchOp{Op: "replace", Path: "/metadata/ownerReferences", Value: desired.NonHashed.OwnerReferences})
	}

	return ops
}

func ownerReferencesEqual(a, b []metav1.OwnerReference) bool {
	if len(a) != len(b) {
		return false
	}
	byUID := make(map[types.UID]metav1.OwnerReference, len(a))
	for _, r := range a {
		byUID[r.UID] = r
	}
	for _, r := range b {
		existing, ok := byUID[r.UID]
		if !ok || existing.Name != r.Name {
			return false
		}
	}
	return true
}

// buildPod assembles the Pod object to CREATE: the builder's template plus
// the kernel-owned identity labels and the pod-hash annotation.
func buildPod(id domain.Identity, namespace string, desired podmodel.Desired, hash string) *corev1.Pod {
	pod := desired.Pod.DeepCopy()
	pod.Namespace = namespace
	pod.Name = id.ServerName

	if pod.Labels == nil {
		pod.Labels = map[string]string{}
	}
	for k, v := range domain.IdentityLabels(id) {
		pod.Labels[k] = v
	}
	for k, v := range desired.NonHashed.ExtraLabels {
		pod.Labels[k] = v
	}

	if pod.Annotations == nil {
		pod.Annotations = map[string]string{}
	}
	pod.Annotations[domain.AnnotationPodHash] = hash
	for k, v := range desired.NonHashed.ExtraAnnotations {
		pod.Annotations[k] = v
	}

	pod.OwnerReferences = desired.NonHashed.OwnerReferences
	return pod
}
