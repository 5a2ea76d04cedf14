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

package controllers

import (
	"context"
	"testing"
	"time"

	kedav1alpha1 "github.com/kedacore/keda/v2/apis/keda/v1alpha1"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
	"github.com/bizmatters/agent-sandbox-operator/internal/composition"
)

func newTestScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(platformv1alpha1.AddToScheme(scheme))
	utilruntime.Must(extensionsv1alpha1.AddToScheme(scheme))
	utilruntime.Must(kedav1alpha1.AddToScheme(scheme))
	return scheme
}

func newTestComposer() *composition.Composer {
	return &composition.Composer{
		Sizes:          composition.DefaultSizes(),
		SyncImage:      "registry.test/workspace-sync:v1",
		BackupInterval: 5 * time.Minute,
		Storage: composition.StorageConfig{
			Endpoint: "minio.platform.svc:9000",
			Bucket:   "agent-workspaces",
		},
		PVCPolicy: composition.DeletionPolicyDelete,
	}
}

func newTestClaim(name string) *platformv1alpha1.AgentSandboxService {
	return &platformv1alpha1.AgentSandboxService{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "tenants",
			UID:       "claim-uid-1",
		},
		Spec: platformv1alpha1.AgentSandboxServiceSpec{
			Image: "registry.test/agent:v3",
			NATS: platformv1alpha1.NATSBinding{
				Stream:   "agent-tasks",
				Consumer: name + "-consumer",
			},
		},
	}
}

func newReconciler(objs ...client.Object) *AgentSandboxServiceReconciler {
	scheme := newTestScheme()
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(
			&platformv1alpha1.AgentSandboxService{},
			&extensionsv1alpha1.SandboxWarmPool{},
			&corev1.PersistentVolumeClaim{},
		).
		Build()
	return &AgentSandboxServiceReconciler{
		Client:   c,
		Scheme:   scheme,
		Composer: newTestComposer(),
	}
}

func reconcileClaim(t *testing.T, r *AgentSandboxServiceReconciler, name string) {
	t.Helper()
	_, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Namespace: "tenants", Name: name},
	})
	require.NoError(t, err)
}

func TestReconcileCreatesResourceSet(t *testing.T) {
	claim := newTestClaim("tenant-a")
	r := newReconciler(claim)
	reconcileClaim(t, r, "tenant-a")

	ctx := context.Background()
	key := types.NamespacedName{Namespace: "tenants", Name: "tenant-a"}

	pool := &extensionsv1alpha1.SandboxWarmPool{}
	require.NoError(t, r.Get(ctx, key, pool))
	require.Equal(t, int32(0), pool.Spec.Replicas)

	template := &extensionsv1alpha1.SandboxTemplate{}
	require.NoError(t, r.Get(ctx, key, template))

	pvc := &corev1.PersistentVolumeClaim{}
	require.NoError(t, r.Get(ctx, types.NamespacedName{Namespace: "tenants", Name: "tenant-a-workspace"}, pvc))

	scaler := &kedav1alpha1.ScaledObject{}
	require.NoError(t, r.Get(ctx, types.NamespacedName{Namespace: "tenants", Name: "tenant-a-scaler"}, scaler))

	secret := &corev1.Secret{}
	require.NoError(t, r.Get(ctx, types.NamespacedName{Namespace: "tenants", Name: "tenant-a-conn"}, secret))

	sa := &corev1.ServiceAccount{}
	require.NoError(t, r.Get(ctx, key, sa))

	// No HTTP port, no Service.
	svc := &corev1.Service{}
	require.Error(t, r.Get(ctx, key, svc))

	// Everything is owned by the claim so deletion cascades.
	owner := metav1.GetControllerOf(pool)
	require.NotNil(t, owner)
	require.Equal(t, claim.UID, owner.UID)

	owner = metav1.GetControllerOf(pvc)
	require.NotNil(t, owner)
	require.Equal(t, claim.UID, owner.UID)
}

func TestReconcileSetsConditions(t *testing.T) {
	r := newReconciler(newTestClaim("tenant-a"))
	reconcileClaim(t, r, "tenant-a")

	got := &platformv1alpha1.AgentSandboxService{}
	require.NoError(t, r.Get(context.Background(), types.NamespacedName{Namespace: "tenants", Name: "tenant-a"}, got))

	synced := meta.FindStatusCondition(got.Status.Conditions, platformv1alpha1.ConditionSynced)
	require.NotNil(t, synced)
	require.Equal(t, metav1.ConditionTrue, synced.Status)
	require.Equal(t, platformv1alpha1.ReasonComposed, synced.Reason)

	// The workspace PVC is not bound in a fake cluster.
	ready := meta.FindStatusCondition(got.Status.Conditions, platformv1alpha1.ConditionReady)
	require.NotNil(t, ready)
	require.Equal(t, metav1.ConditionFalse, ready.Status)
	require.Equal(t, platformv1alpha1.ReasonWaiting, ready.Reason)
}

func TestReconcileReadyWhenPVCBound(t *testing.T) {
	claim := newTestClaim("tenant-a")
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "tenant-a-workspace", Namespace: "tenants"},
		Status:     corev1.PersistentVolumeClaimStatus{Phase: corev1.ClaimBound},
	}
	r := newReconciler(claim, pvc)
	reconcileClaim(t, r, "tenant-a")

	got := &platformv1alpha1.AgentSandboxService{}
	require.NoError(t, r.Get(context.Background(), types.NamespacedName{Namespace: "tenants", Name: "tenant-a"}, got))

	ready := meta.FindStatusCondition(got.Status.Conditions, platformv1alpha1.ConditionReady)
	require.NotNil(t, ready)
	require.Equal(t, metav1.ConditionTrue, ready.Status)
	require.Equal(t, platformv1alpha1.ReasonResourcesReady, ready.Reason)
}

func TestReconcileInvalidClaim(t *testing.T) {
	claim := newTestClaim("tenant-a")
	claim.Spec.Image = ""
	r := newReconciler(claim)

	// Invalid claims are terminal until the spec changes: no requeue error.
	reconcileClaim(t, r, "tenant-a")

	got := &platformv1alpha1.AgentSandboxService{}
	require.NoError(t, r.Get(context.Background(), types.NamespacedName{Namespace: "tenants", Name: "tenant-a"}, got))

	synced := meta.FindStatusCondition(got.Status.Conditions, platformv1alpha1.ConditionSynced)
	require.NotNil(t, synced)
	require.Equal(t, metav1.ConditionFalse, synced.Status)
	require.Equal(t, platformv1alpha1.ReasonInvalidClaim, synced.Reason)

	// Nothing was rendered.
	pool := &extensionsv1alpha1.SandboxWarmPool{}
	err := r.Get(context.Background(), types.NamespacedName{Namespace: "tenants", Name: "tenant-a"}, pool)
	require.Error(t, err)
}

func TestReconcileRetainedPVCIsUnowned(t *testing.T) {
	r := newReconciler(newTestClaim("tenant-a"))
	r.Composer.PVCPolicy = composition.DeletionPolicyRetain
	reconcileClaim(t, r, "tenant-a")

	pvc := &corev1.PersistentVolumeClaim{}
	require.NoError(t, r.Get(context.Background(), types.NamespacedName{Namespace: "tenants", Name: "tenant-a-workspace"}, pvc))
	require.Empty(t, pvc.OwnerReferences)

	// The rest of the set is still owned.
	pool := &extensionsv1alpha1.SandboxWarmPool{}
	require.NoError(t, r.Get(context.Background(), types.NamespacedName{Namespace: "tenants", Name: "tenant-a"}, pool))
	require.NotNil(t, metav1.GetControllerOf(pool))
}

func TestReconcilePrunesServiceWhenPortCleared(t *testing.T) {
	claim := newTestClaim("tenant-a")
	claim.Spec.HTTPPort = ptr.To(int32(8080))
	r := newReconciler(claim)
	reconcileClaim(t, r, "tenant-a")

	ctx := context.Background()
	key := types.NamespacedName{Namespace: "tenants", Name: "tenant-a"}
	svc := &corev1.Service{}
	require.NoError(t, r.Get(ctx, key, svc))

	got := &platformv1alpha1.AgentSandboxService{}
	require.NoError(t, r.Get(ctx, key, got))
	got.Spec.HTTPPort = nil
	require.NoError(t, r.Update(ctx, got))
	reconcileClaim(t, r, "tenant-a")

	err := r.Get(ctx, key, &corev1.Service{})
	require.True(t, apierrors.IsNotFound(err))

	require.NoError(t, r.Get(ctx, key, got))
	require.Empty(t, got.Status.Endpoint)
}

func TestReconcileMissingClaim(t *testing.T) {
	r := newReconciler()
	reconcileClaim(t, r, "gone")
}

func TestReconcileIdempotent(t *testing.T) {
	r := newReconciler(newTestClaim("tenant-a"))
	reconcileClaim(t, r, "tenant-a")
	reconcileClaim(t, r, "tenant-a")

	pool := &extensionsv1alpha1.SandboxWarmPool{}
	require.NoError(t, r.Get(context.Background(), types.NamespacedName{Namespace: "tenants", Name: "tenant-a"}, pool))
	require.Equal(t, int32(0), pool.Spec.Replicas)
}
