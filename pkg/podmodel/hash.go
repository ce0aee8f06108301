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

package podmodel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
	corev1 "k8s.io/api/core/v1"
)

// HashVersion is bumped whenever a change to Hashed's fields would silently
// change the hash of an already-deployed pod in a way that should NOT
// trigger a roll, or vice versa. See EC2NodeClassHashVersion in the
// teacher's apis for the same convention.
const HashVersion = "v1"

// hashInput is Hashed reshaped into a named struct so set-semantics can be
// scoped per field via the `hash:"set"` tag, rather than applied uniformly
// with HashOptions.SlicesAsSets. Command is positional — "sh","-c","foo" is
// a different program than "-c","sh","foo" — and Env has k8s-defined
// last-wins semantics for duplicate names, so both stay order-sensitive.
// Only Volumes and VolumeMounts are genuinely unordered: each entry is
// independent of the others by name/mount path, not by position.
type hashInput struct {
	Version             string
	Image               string
	Command             []string
	Env                 []corev1.EnvVar
	Resources           corev1.ResourceRequirements
	Volumes             []corev1.Volume      `hash:"set"`
	VolumeMounts        []corev1.VolumeMount `hash:"set"`
	SecurityContext     *corev1.PodSecurityContext
	IdentityLabels      map[string]string
	IdentityAnnotations map[string]string
}

// Hash computes the stable "weblogic.oracle/pod-hash" annotation value for
// the hashed partition of a desired pod. Stability requirements (spec.md
// §4.F "Hashing contract"):
//   - independent of map key order (hashstructure.FormatV2 hashes each map
//     entry separately and combines the entry hashes order-independently)
//   - independent of slice order only for the fields that are genuinely
//     sets (`hash:"set"` on hashInput.Volumes/VolumeMounts) — Command and
//     Env stay order-sensitive, since both carry positional or last-wins
//     semantics that a set-reduction would silently erase
//   - independent of zero-valued optional fields being present vs absent
//     (IgnoreZeroValue)
func Hash(h Hashed) (string, error) {
	raw, err := hashstructure.Hash(hashInput{
		Version:             HashVersion,
		Image:               h.Image,
		Command:             h.Command,
		Env:                 h.Env,
		Resources:           h.Resources,
		Volumes:             h.Volumes,
		VolumeMounts:        h.VolumeMounts,
		SecurityContext:     h.SecurityContext,
		IdentityLabels:      h.IdentityLabels,
		IdentityAnnotations: h.IdentityAnnotations,
	}, hashstructure.FormatV2, &hashstructure.HashOptions{
		IgnoreZeroValue: true,
		ZeroNil:         true,
	})
	if err != nil {
		return "", fmt.Errorf("hashing pod model: %w", err)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d", raw)))
	return hex.EncodeToString(sum[:]), nil
}
