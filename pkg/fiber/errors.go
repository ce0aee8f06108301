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

package fiber

import "errors"

// ErrorKind classifies a terminal fiber failure per spec.md §7, in
// ascending severity.
type ErrorKind int

const (
	ErrKindTransientAPI ErrorKind = iota
	ErrKindNotFound
	ErrKindWatchTimeout
	ErrKindCancellation
	ErrKindValidation
	ErrKindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransientAPI:
		return "TransientAPI"
	case ErrKindNotFound:
		return "NotFound"
	case ErrKindWatchTimeout:
		return "WatchTimeout"
	case ErrKindCancellation:
		return "Cancellation"
	case ErrKindValidation:
		return "Validation"
	case ErrKindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// KernelError wraps a terminal fiber failure with its classification. The
// DomainProcessor maps Kind to a Domain status condition; the kernel itself
// never renders condition text (spec.md §7).
type KernelError struct {
	Kind  ErrorKind
	Cause error
}

func (e *KernelError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *KernelError) Unwrap() error { return e.Cause }

// NewKernelError wraps cause with the given classification.
func NewKernelError(kind ErrorKind, cause error) *KernelError {
	return &KernelError{Kind: kind, Cause: cause}
}

// Sentinel causes. FiberGate pre-emption and step timeouts compare against
// these with errors.Is rather than constructing a fresh KernelError each
// time, so callers that only care about the shape can match cheaply.
var (
	// ErrCancelled is the cause a cancelled fiber's failure callback
	// receives (spec.md §5 "Cancellation semantics").
	ErrCancelled = errors.New("fiber cancelled")
	// ErrTimeoutExceeded is thrown when a step's fallback delay elapses
	// before the external event it was waiting for arrives (spec.md §5
	// "Timeouts").
	ErrTimeoutExceeded = errors.New("timeout exceeded waiting for external event")
)

// IsCancelled reports whether err (or something it wraps) is the kernel's
// cancellation sentinel.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
