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

// Package status maps a fiber's terminal outcome to a Domain status
// condition. The kernel itself only ever returns a fiber.KernelError's
// ErrorKind (spec.md §7 "The kernel only supplies the kind; the mapping to
// condition text is owned by the DomainProcessor") — this package is that
// mapping, kept next to the processor shim rather than inside the kernel
// packages.
package status

import (
	"errors"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/oracle/weblogic-kernel/pkg/fiber"
)

// Condition types a reconciliation fiber's outcome can produce.
const (
	ConditionCompleted = "Completed"
	ConditionAvailable = "Available"
	ConditionFailed    = "Failed"
)

// ErrReintrospectRequired is thrown by the default chain's reintrospect
// step in place of an admin-server replace when the desired pod demands
// re-introspection first (spec.md §4.F "Admin-server rebuild trigger"). It
// is not a fiber.KernelError: re-introspection is a deferred, expected
// outcome, not a failure to classify by severity.
var ErrReintrospectRequired = errors.New("admin server rebuild requires re-introspection before replace")

// FromFiberResult maps a fiber's terminal error (nil on success) to the
// Domain status condition it should produce. ok is false for cancellation,
// which spec.md §7 defines as silent: FiberGate pre-emption is recovered by
// the replacement fiber, not surfaced to the user.
func FromFiberResult(err error) (cond metav1.Condition, ok bool) {
	switch {
	case err == nil:
		return metav1.Condition{
			Type:    ConditionCompleted,
			Status:  metav1.ConditionTrue,
			Reason:  "ReconcileSucceeded",
			Message: "domain reconciled successfully",
		}, true
	case fiber.IsCancelled(err):
		return metav1.Condition{}, false
	case errors.Is(err, ErrReintrospectRequired):
		return metav1.Condition{
			Type:    ConditionAvailable,
			Status:  metav1.ConditionFalse,
			Reason:  "ReintrospectionRequired",
			Message: err.Error(),
		}, true
	}

	var kerr *fiber.KernelError
	if errors.As(err, &kerr) {
		return conditionForKind(kerr), true
	}
	return metav1.Condition{
		Type:    ConditionFailed,
		Status:  metav1.ConditionTrue,
		Reason:  "Internal",
		Message: err.Error(),
	}, true
}

func conditionForKind(kerr *fiber.KernelError) metav1.Condition {
	reason := "InternalError"
	switch kerr.Kind {
	case fiber.ErrKindTransientAPI:
		reason = "TransientAPIExhausted"
	case fiber.ErrKindNotFound:
		reason = "ResourceNotFound"
	case fiber.ErrKindWatchTimeout:
		reason = "WatchTimeout"
	case fiber.ErrKindValidation:
		reason = "ValidationFailed"
	case fiber.ErrKindCancellation:
		reason = "Cancelled"
	}
	return metav1.Condition{
		Type:    ConditionFailed,
		Status:  metav1.ConditionTrue,
		Reason:  reason,
		Message: kerr.Error(),
	}
}
