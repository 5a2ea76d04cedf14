// Copyright 2025 The Bizmatters Platform Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package composition

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
)

// EnvSources renders the envFrom list for the main container.
//
// Ordering is load-bearing: user secrets occupy the leading indices in
// secret1..secret5 slot order with unset slots skipped, and the platform
// secret is always last. User secrets are optional so the pod still starts
// when one is missing; the platform secret is required because it carries
// the object-storage credentials the workspace pipeline cannot run without.
func EnvSources(spec *platformv1alpha1.AgentSandboxServiceSpec) []corev1.EnvFromSource {
	names := spec.UserSecretNames()
	sources := make([]corev1.EnvFromSource, 0, len(names)+1)
	for _, name := range names {
		if name == "" {
			continue
		}
		sources = append(sources, corev1.EnvFromSource{
			SecretRef: &corev1.SecretEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: name},
				Optional:             ptr.To(true),
			},
		})
	}

	return append(sources, PlatformEnvSource(spec))
}

// PlatformEnvSource renders the required platform secret reference on its
// own, for containers that need storage credentials but no user secrets.
func PlatformEnvSource(spec *platformv1alpha1.AgentSandboxServiceSpec) corev1.EnvFromSource {
	name := spec.PlatformSecretName
	if name == "" {
		name = platformv1alpha1.DefaultPlatformSecretName
	}
	return corev1.EnvFromSource{
		SecretRef: &corev1.SecretEnvSource{
			LocalObjectReference: corev1.LocalObjectReference{Name: name},
			Optional:             ptr.To(false),
		},
	}
}
