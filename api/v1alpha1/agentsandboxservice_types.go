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

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// NOTE: json tags are required. Any new fields you add must have json tags for the fields to be serialized.
// Important: Run "make" to regenerate code after modifying this file

const (
	// HeartbeatAnnotation holds the RFC3339 timestamp of the last gateway
	// access to the sandbox. It is written by the gateway on every proxied
	// request; this operator only reads it to judge idleness.
	HeartbeatAnnotation = "platform.bizmatters.io/last-active"

	// DefaultPlatformSecretName carries the object-storage credentials the
	// workspace pipeline needs. The pod must not start without it.
	DefaultPlatformSecretName = "aws-access-token"
)

// Condition types reported on AgentSandboxService status.
const (
	// ConditionSynced is True once the derived resource set has been
	// rendered and applied to the cluster.
	ConditionSynced = "Synced"

	// ConditionReady is True once all derived resources report ready.
	ConditionReady = "Ready"
)

// Condition reasons.
const (
	ReasonComposed       = "ResourcesComposed"
	ReasonInvalidClaim   = "InvalidClaim"
	ReasonApplyError     = "ApplyError"
	ReasonResourcesReady = "ResourcesReady"
	ReasonWaiting        = "WaitingForResources"
)

// SandboxSize selects the CPU/memory class for the sandbox workload.
// +kubebuilder:validation:Enum=micro;small;medium;large
type SandboxSize string

const (
	SizeMicro  SandboxSize = "micro"
	SizeSmall  SandboxSize = "small"
	SizeMedium SandboxSize = "medium"
	SizeLarge  SandboxSize = "large"
)

// NATSBinding identifies the JetStream stream/consumer pair whose depth
// drives warm-pool scaling. The operator never connects to the broker; the
// pair is passed through verbatim as ScaledObject trigger metadata.
type NATSBinding struct {
	// URL of the NATS server, e.g. nats://nats.nats.svc:4222.
	// +optional
	URL string `json:"url,omitempty"`

	// Stream is the JetStream stream name.
	// +kubebuilder:validation:Required
	Stream string `json:"stream"`

	// Consumer is the durable consumer whose pending message count is the
	// scaling signal.
	// +kubebuilder:validation:Required
	Consumer string `json:"consumer"`
}

// AgentSandboxServiceSpec defines the desired state of one agent sandbox.
type AgentSandboxServiceSpec struct {
	// Image is the agent container image.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image"`

	// Command overrides the image entrypoint.
	// +optional
	Command []string `json:"command,omitempty"`

	// Args are passed to the entrypoint.
	// +optional
	Args []string `json:"args,omitempty"`

	// Size selects the resource class for the main container.
	// +kubebuilder:default=small
	// +optional
	Size SandboxSize `json:"size,omitempty"`

	// NATS binds the sandbox to its scaling signal.
	// +kubebuilder:validation:Required
	NATS NATSBinding `json:"nats"`

	// HTTPPort, when set, exposes the sandbox through a ClusterIP Service
	// and attaches HTTP probes to the main container.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	// +optional
	HTTPPort *int32 `json:"httpPort,omitempty"`

	// HealthPath is the liveness probe path. Empty disables the probe.
	// +optional
	HealthPath string `json:"healthPath,omitempty"`

	// ReadyPath is the readiness probe path. Empty disables the probe.
	// +optional
	ReadyPath string `json:"readyPath,omitempty"`

	// SessionAffinity for the Service, when one is created.
	// +kubebuilder:validation:Enum=None;ClientIP
	// +kubebuilder:default=None
	// +optional
	SessionAffinity corev1.ServiceAffinity `json:"sessionAffinity,omitempty"`

	// Secret1Name..Secret5Name reference optional user secrets injected as
	// container env. Slot order is load-bearing: the rendered env sources
	// keep secret1..secret5 order with unset slots skipped.
	// +optional
	Secret1Name string `json:"secret1Name,omitempty"`
	// +optional
	Secret2Name string `json:"secret2Name,omitempty"`
	// +optional
	Secret3Name string `json:"secret3Name,omitempty"`
	// +optional
	Secret4Name string `json:"secret4Name,omitempty"`
	// +optional
	Secret5Name string `json:"secret5Name,omitempty"`

	// PlatformSecretName references the required platform secret carrying
	// object-storage credentials. It is always the last env source and is
	// not optional: the pod must fail to start without it.
	// +kubebuilder:default=aws-access-token
	// +optional
	PlatformSecretName string `json:"platformSecretName,omitempty"`

	// StorageGB sizes the workspace volume in binary gigabytes.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=100
	// +kubebuilder:default=10
	// +optional
	StorageGB int32 `json:"storageGB,omitempty"`

	// ImagePullSecrets are propagated to the pod spec.
	// +optional
	ImagePullSecrets []corev1.LocalObjectReference `json:"imagePullSecrets,omitempty"`

	// InitImage overrides the workspace-sync image used for the hydration
	// init container and the backup sidecar.
	// +optional
	InitImage string `json:"initImage,omitempty"`
}

// UserSecretNames returns the five user secret slots in declaration order,
// including empty ones.
func (s *AgentSandboxServiceSpec) UserSecretNames() [5]string {
	return [5]string{s.Secret1Name, s.Secret2Name, s.Secret3Name, s.Secret4Name, s.Secret5Name}
}

// AgentSandboxServiceStatus defines the observed state of the sandbox.
type AgentSandboxServiceStatus struct {
	// Conditions hold the Synced and Ready aggregate conditions.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// Endpoint is the in-cluster HTTP endpoint, when httpPort is set.
	// +optional
	Endpoint string `json:"endpoint,omitempty"`

	// WarmPoolReplicas mirrors the warm pool's observed replica count.
	// +optional
	WarmPoolReplicas int32 `json:"warmPoolReplicas,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=asvc
// +kubebuilder:printcolumn:name="Synced",type=string,JSONPath=`.status.conditions[?(@.type=="Synced")].status`
// +kubebuilder:printcolumn:name="Ready",type=string,JSONPath=`.status.conditions[?(@.type=="Ready")].status`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
// AgentSandboxService is the Schema for the agent sandbox claim API
type AgentSandboxService struct {
	metav1.TypeMeta `json:",inline"`

	// metadata is a standard object metadata
	// +optional
	metav1.ObjectMeta `json:"metadata,omitempty,omitzero"`

	// spec defines the desired state of the sandbox
	// +required
	Spec AgentSandboxServiceSpec `json:"spec"`

	// status defines the observed state of the sandbox
	// +optional
	Status AgentSandboxServiceStatus `json:"status,omitempty,omitzero"`
}

// +kubebuilder:object:root=true

// AgentSandboxServiceList contains a list of AgentSandboxService
type AgentSandboxServiceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []AgentSandboxService `json:"items"`
}

func init() {
	SchemeBuilder.Register(&AgentSandboxService{}, &AgentSandboxServiceList{})
}
