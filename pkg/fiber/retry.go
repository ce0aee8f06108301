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

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// RetryTransient retries op under the policy spec.md §7 assigns to the
// "Transient API" error kind (409/429/5xx from the Kubernetes API):
// exponential backoff up to attempts tries, then the last error is returned
// for the caller to promote to fatal-for-step. Any other error is returned
// at once, without a retry.
func RetryTransient(ctx context.Context, attempts uint, baseDelay time.Duration, op func() error) error {
	return retry.Do(
		op,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return apierrors.IsConflict(err) || apierrors.IsTooManyRequests(err) ||
				apierrors.IsServerTimeout(err) || apierrors.IsInternalError(err) ||
				apierrors.IsServiceUnavailable(err) || apierrors.IsTimeout(err)
		}),
	)
}
