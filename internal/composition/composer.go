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

// Package composition renders the full derived resource set for one
// AgentSandboxService claim: pod template, warm pool, workspace PVC,
// optional Service, ServiceAccount, KEDA ScaledObject and connection
// secret. Compose is a pure function of the claim and the composer
// configuration; identical input renders a deep-equal resource set, which
// is what makes resurrection after a Cold cycle produce identical
// addressing.
package composition

import (
	"errors"
	"fmt"
	"time"

	kedav1alpha1 "github.com/kedacore/keda/v2/apis/keda/v1alpha1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
)

// Platform storage bounds in binary gigabytes. The CRD schema enforces the
// same range; the composer re-checks so it never renders an out-of-range
// PVC when called with an unvalidated claim.
const (
	MinStorageGB = 1
	MaxStorageGB = 100
)

// ErrInvalidClaim wraps all validation failures so callers can surface them
// as Synced=False without retrying.
var ErrInvalidClaim = errors.New("invalid claim")

// DeletionPolicy selects what happens to the workspace PVC when the claim
// is deleted.
type DeletionPolicy string

const (
	// DeletionPolicyDelete makes the claim the PVC's controller owner, so
	// the Cold transition cascades and reclaims storage.
	DeletionPolicyDelete DeletionPolicy = "Delete"

	// DeletionPolicyRetain renders the PVC unowned; it survives claim
	// deletion.
	DeletionPolicyRetain DeletionPolicy = "Retain"
)

// StorageConfig locates the object-storage service backing workspace
// persistence. Credentials travel separately, via the platform secret.
type StorageConfig struct {
	Endpoint string
	Bucket   string
	UseSSL   bool
}

// Composer renders derived resources for claims.
type Composer struct {
	Sizes          SizeTable
	SyncImage      string
	BackupInterval time.Duration
	Storage        StorageConfig
	PVCPolicy      DeletionPolicy
}

// ResourceSet is everything derived from one claim. All resources carry the
// claim's name (suffixed where noted) so identity is stable across
// resurrections.
type ResourceSet struct {
	Template         *extensionsv1alpha1.SandboxTemplate
	WarmPool         *extensionsv1alpha1.SandboxWarmPool
	PVC              *corev1.PersistentVolumeClaim
	Service          *corev1.Service
	ServiceAccount   *corev1.ServiceAccount
	Scaler           *kedav1alpha1.ScaledObject
	ConnectionSecret *corev1.Secret

	// RetainPVC tells the reconciler to skip the owner reference on the
	// PVC, detaching it from the deletion cascade.
	RetainPVC bool
}

// Objects returns the non-nil resources in apply order.
func (s *ResourceSet) Objects() []client.Object {
	objs := []client.Object{s.ServiceAccount, s.PVC, s.Template, s.WarmPool, s.Scaler}
	if s.Service != nil {
		objs = append(objs, s.Service)
	}
	return append(objs, s.ConnectionSecret)
}

// Derived resource names.
func WorkspacePVCName(claim string) string { return claim + "-workspace" }
func ConnectionSecretName(claim string) string { return claim + "-conn" }
func ScalerName(claim string) string { return claim + "-scaler" }

// Labels returns the standard ownership labels stamped on every derived
// resource. The app.kubernetes.io/name value doubles as the pod selector.
func Labels(claim *platformv1alpha1.AgentSandboxService) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":       claim.Name,
		"app.kubernetes.io/managed-by": "agent-sandbox-operator",
	}
}

// Validate rejects malformed claims before any resource is rendered.
func (c *Composer) Validate(claim *platformv1alpha1.AgentSandboxService) error {
	var errs []error
	if claim.Spec.Image == "" {
		errs = append(errs, errors.New("spec.image is required"))
	}
	if claim.Spec.NATS.Stream == "" {
		errs = append(errs, errors.New("spec.nats.stream is required"))
	}
	if claim.Spec.NATS.Consumer == "" {
		errs = append(errs, errors.New("spec.nats.consumer is required"))
	}
	if size := claim.Spec.Size; size != "" {
		if _, ok := c.Sizes[size]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownSize, size))
		}
	}
	if gb := claim.Spec.StorageGB; gb != 0 && (gb < MinStorageGB || gb > MaxStorageGB) {
		errs = append(errs, fmt.Errorf("spec.storageGB %d outside platform bounds [%d,%d]", gb, MinStorageGB, MaxStorageGB))
	}
	if port := claim.Spec.HTTPPort; port != nil && (*port < 1 || *port > 65535) {
		errs = append(errs, fmt.Errorf("spec.httpPort %d outside TCP port range", *port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidClaim, err)
	}
	return nil
}

// Compose renders the full resource set for a claim. It is side-effect
// free; owner references are the reconciler's concern.
func (c *Composer) Compose(claim *platformv1alpha1.AgentSandboxService) (*ResourceSet, error) {
	if err := c.Validate(claim); err != nil {
		return nil, err
	}

	size := claim.Spec.Size
	if size == "" {
		size = platformv1alpha1.SizeSmall
	}
	sizeClass, ok := c.Sizes[size]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSize, size)
	}

	storageGB := claim.Spec.StorageGB
	if storageGB == 0 {
		storageGB = 10
	}

	labels := Labels(claim)
	podTemplate := c.podTemplate(claim, sizeClass, labels)

	set := &ResourceSet{
		Template:       c.template(claim, podTemplate, labels),
		WarmPool:       c.warmPool(claim, podTemplate, labels),
		PVC:            c.pvc(claim, storageGB, labels),
		ServiceAccount: c.serviceAccount(claim, labels),
		Scaler:         c.scaledObject(claim, labels),
		RetainPVC:      c.PVCPolicy == DeletionPolicyRetain,
	}
	if claim.Spec.HTTPPort != nil {
		set.Service = c.service(claim, labels)
	}
	set.ConnectionSecret = c.connectionSecret(claim, labels)
	return set, nil
}

func (c *Composer) podTemplate(claim *platformv1alpha1.AgentSandboxService, size SizeClass, labels map[string]string) corev1.PodTemplateSpec {
	grace := int64(60)
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels: labels,
		},
		Spec: corev1.PodSpec{
			ServiceAccountName:            claim.Name,
			ImagePullSecrets:              claim.Spec.ImagePullSecrets,
			TerminationGracePeriodSeconds: &grace,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsNonRoot: ptr.To(false),
				RunAsUser:    ptr.To(int64(0)),
				RunAsGroup:   ptr.To(int64(0)),
				FSGroup:      ptr.To(int64(0)),
			},
			InitContainers: []corev1.Container{c.hydrationInitContainer(claim)},
			Containers: []corev1.Container{
				c.mainContainer(claim, size),
				c.backupSidecar(claim),
			},
			Volumes: []corev1.Volume{
				{
					Name: workspaceVolume,
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: WorkspacePVCName(claim.Name),
						},
					},
				},
				{
					Name: syncBinVolume,
					VolumeSource: corev1.VolumeSource{
						EmptyDir: &corev1.EmptyDirVolumeSource{},
					},
				},
			},
		},
	}
}

func (c *Composer) template(claim *platformv1alpha1.AgentSandboxService, podTemplate corev1.PodTemplateSpec, labels map[string]string) *extensionsv1alpha1.SandboxTemplate {
	return &extensionsv1alpha1.SandboxTemplate{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claim.Name,
			Namespace: claim.Namespace,
			Labels:    labels,
		},
		Spec: extensionsv1alpha1.SandboxTemplateSpec{PodTemplate: podTemplate},
	}
}

func (c *Composer) warmPool(claim *platformv1alpha1.AgentSandboxService, podTemplate corev1.PodTemplateSpec, labels map[string]string) *extensionsv1alpha1.SandboxWarmPool {
	return &extensionsv1alpha1.SandboxWarmPool{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claim.Name,
			Namespace: claim.Namespace,
			Labels:    labels,
		},
		Spec: extensionsv1alpha1.SandboxWarmPoolSpec{
			// Pools start at zero; the first broker message scales 0->1.
			Replicas: 0,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app.kubernetes.io/name": claim.Name},
			},
			PodTemplate: podTemplate,
		},
	}
}

func (c *Composer) pvc(claim *platformv1alpha1.AgentSandboxService, storageGB int32, labels map[string]string) *corev1.PersistentVolumeClaim {
	quantity := resource.MustParse(fmt.Sprintf("%dGi", storageGB))
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      WorkspacePVCName(claim.Name),
			Namespace: claim.Namespace,
			Labels:    labels,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: quantity},
			},
		},
	}
}

func (c *Composer) service(claim *platformv1alpha1.AgentSandboxService, labels map[string]string) *corev1.Service {
	port := *claim.Spec.HTTPPort
	affinity := claim.Spec.SessionAffinity
	if affinity == "" {
		affinity = corev1.ServiceAffinityNone
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claim.Name,
			Namespace: claim.Namespace,
			Labels:    labels,
			Annotations: map[string]string{
				"prometheus.io/scrape": "true",
				"prometheus.io/port":   fmt.Sprintf("%d", port),
			},
		},
		Spec: corev1.ServiceSpec{
			Type:            corev1.ServiceTypeClusterIP,
			Selector:        map[string]string{"app.kubernetes.io/name": claim.Name},
			SessionAffinity: affinity,
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Port:       port,
					TargetPort: intstr.FromInt32(port),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

func (c *Composer) serviceAccount(claim *platformv1alpha1.AgentSandboxService, labels map[string]string) *corev1.ServiceAccount {
	return &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claim.Name,
			Namespace: claim.Namespace,
			Labels:    labels,
		},
	}
}

// connectionSecret exposes the sandbox's addressing to downstream callers.
// Keys are stable API: SANDBOX_SERVICE_NAME, SANDBOX_HTTP_ENDPOINT,
// SANDBOX_NAMESPACE.
func (c *Composer) connectionSecret(claim *platformv1alpha1.AgentSandboxService, labels map[string]string) *corev1.Secret {
	data := map[string][]byte{
		"SANDBOX_SERVICE_NAME": []byte(claim.Name),
		"SANDBOX_NAMESPACE":    []byte(claim.Namespace),
	}
	if port := claim.Spec.HTTPPort; port != nil {
		endpoint := fmt.Sprintf("http://%s.%s.svc:%d", claim.Name, claim.Namespace, *port)
		data["SANDBOX_HTTP_ENDPOINT"] = []byte(endpoint)
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConnectionSecretName(claim.Name),
			Namespace: claim.Namespace,
			Labels:    labels,
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}
}
