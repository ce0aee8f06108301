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

// Package domain holds the kernel's view of a declared WebLogic Domain: the
// immutable snapshot a reconciliation fiber runs against, and the server
// identities that key every per-server map in the kernel.
package domain

import (
	"time"

	corev1 "k8s.io/api/core/v1"
)

// Snapshot is an immutable view of one generation of a Domain's declared
// spec plus derived topology. Reconciliation always refers to a single
// Snapshot for its entire fiber lifetime (spec.md §3).
type Snapshot struct {
	DomainUID  string
	Namespace  string
	Generation int64

	Admin    ServerSpec
	Clusters []ClusterSpec
}

// ClusterSpec describes one WebLogic cluster's replica budget and its
// per-server overrides.
type ClusterSpec struct {
	Name           string
	Replicas       int32
	MaxUnavailable int32
	Servers        []ServerSpec
}

// ServerSpec is the per-server declared configuration the pod model builder
// consumes. ClusterName is empty for the administrative server.
type ServerSpec struct {
	Name            string
	ClusterName     string
	Image           string
	Env             []corev1.EnvVar
	Labels          map[string]string
	Annotations     map[string]string
	Resources       corev1.ResourceRequirements
	ShutdownTimeout time.Duration

	// ReintrospectRequired is set by the external DomainProcessor when a
	// topology diff indicates the admin server's roll must go through
	// re-introspection rather than a plain delete/re-create (spec.md §4.F
	// "Admin-server rebuild trigger").
	ReintrospectRequired bool
}

// Identity is the key in every per-server map the kernel keeps: the tuple
// (domainUID, clusterName?, serverName). Cluster is empty for the admin
// server.
type Identity struct {
	DomainUID   string
	ClusterName string
	ServerName  string
}

// IsAdmin reports whether this identity names the administrative server.
func (i Identity) IsAdmin() bool {
	return i.ClusterName == ""
}

// AdminIdentity builds the Identity for this snapshot's administrative
// server.
func (s *Snapshot) AdminIdentity() Identity {
	return Identity{DomainUID: s.DomainUID, ServerName: s.Admin.Name}
}

// ClusterByName returns the named cluster, or false if the snapshot does not
// declare it.
func (s *Snapshot) ClusterByName(name string) (ClusterSpec, bool) {
	for _, c := range s.Clusters {
		if c.Name == name {
			return c, true
		}
	}
	return ClusterSpec{}, false
}

// ServerIdentities enumerates every server identity this snapshot declares:
// the admin server followed by every clustered managed server.
func (s *Snapshot) ServerIdentities() []Identity {
	ids := make([]Identity, 0, 1+len(s.Clusters))
	ids = append(ids, s.AdminIdentity())
	for _, c := range s.Clusters {
		for _, srv := range c.Servers {
			ids = append(ids, Identity{DomainUID: s.DomainUID, ClusterName: c.Name, ServerName: srv.Name})
		}
	}
	return ids
}

// ServerSpecByIdentity returns the declared ServerSpec for id, or false if
// the snapshot no longer declares a server at that identity (e.g. a scaled-
// down cluster member still carrying a live pod).
func (s *Snapshot) ServerSpecByIdentity(id Identity) (ServerSpec, bool) {
	if id.IsAdmin() {
		return s.Admin, true
	}
	cluster, ok := s.ClusterByName(id.ClusterName)
	if !ok {
		return ServerSpec{}, false
	}
	for _, srv := range cluster.Servers {
		if srv.Name == id.ServerName {
			return srv, true
		}
	}
	return ServerSpec{}, false
}
