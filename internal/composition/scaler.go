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
	kedav1alpha1 "github.com/kedacore/keda/v2/apis/keda/v1alpha1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
)

// scaledObject declares the autoscaling trigger for the claim's warm pool.
// The operator never polls the broker itself; KEDA reads the JetStream
// consumer depth and drives the pool's scale subresource between 0 and 1.
// maxReplicaCount stays 1: one agent instance per claim, not a worker pool.
func (c *Composer) scaledObject(claim *platformv1alpha1.AgentSandboxService, labels map[string]string) *kedav1alpha1.ScaledObject {
	metadata := map[string]string{
		"stream":   claim.Spec.NATS.Stream,
		"consumer": claim.Spec.NATS.Consumer,
	}
	if claim.Spec.NATS.URL != "" {
		metadata["natsServerMonitoringEndpoint"] = claim.Spec.NATS.URL
	}

	return &kedav1alpha1.ScaledObject{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ScalerName(claim.Name),
			Namespace: claim.Namespace,
			Labels:    labels,
		},
		Spec: kedav1alpha1.ScaledObjectSpec{
			ScaleTargetRef: &kedav1alpha1.ScaleTarget{
				APIVersion: extensionsv1alpha1.GroupVersion.String(),
				Kind:       "SandboxWarmPool",
				Name:       claim.Name,
			},
			MinReplicaCount: ptr.To(int32(0)),
			MaxReplicaCount: ptr.To(int32(1)),
			Triggers: []kedav1alpha1.ScaleTriggers{
				{
					Type:     "nats-jetstream",
					Metadata: metadata,
				},
			},
		},
	}
}
