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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
)

func newTestComposer() *Composer {
	return &Composer{
		Sizes:          DefaultSizes(),
		SyncImage:      "registry.test/workspace-sync:v1",
		BackupInterval: 5 * time.Minute,
		Storage: StorageConfig{
			Endpoint: "minio.platform.svc:9000",
			Bucket:   "agent-workspaces",
			UseSSL:   false,
		},
		PVCPolicy: DeletionPolicyDelete,
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
				URL:      "nats://nats.platform.svc:4222",
				Stream:   "agent-tasks",
				Consumer: name + "-consumer",
			},
		},
	}
}

func TestComposeValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*platformv1alpha1.AgentSandboxService)
	}{
		{
			name:   "missing image",
			mutate: func(c *platformv1alpha1.AgentSandboxService) { c.Spec.Image = "" },
		},
		{
			name:   "missing stream",
			mutate: func(c *platformv1alpha1.AgentSandboxService) { c.Spec.NATS.Stream = "" },
		},
		{
			name:   "missing consumer",
			mutate: func(c *platformv1alpha1.AgentSandboxService) { c.Spec.NATS.Consumer = "" },
		},
		{
			name:   "unknown size",
			mutate: func(c *platformv1alpha1.AgentSandboxService) { c.Spec.Size = "colossal" },
		},
		{
			name:   "storage above platform bound",
			mutate: func(c *platformv1alpha1.AgentSandboxService) { c.Spec.StorageGB = 500 },
		},
		{
			name:   "storage below platform bound",
			mutate: func(c *platformv1alpha1.AgentSandboxService) { c.Spec.StorageGB = -1 },
		},
		{
			name:   "port out of range",
			mutate: func(c *platformv1alpha1.AgentSandboxService) { c.Spec.HTTPPort = ptr.To(int32(70000)) },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			claim := newTestClaim("tenant-a")
			tc.mutate(claim)

			set, err := newTestComposer().Compose(claim)
			require.ErrorIs(t, err, ErrInvalidClaim)
			require.Nil(t, set)
		})
	}
}

func TestComposeDeterministic(t *testing.T) {
	composer := newTestComposer()
	claim := newTestClaim("tenant-a")
	claim.Spec.HTTPPort = ptr.To(int32(8080))

	first, err := composer.Compose(claim)
	require.NoError(t, err)

	// A resurrected claim has a fresh UID but the same spec; the rendered
	// set must come out identical so addressing survives the Cold cycle.
	resurrected := newTestClaim("tenant-a")
	resurrected.UID = "claim-uid-2"
	resurrected.Spec.HTTPPort = ptr.To(int32(8080))

	second, err := composer.Compose(resurrected)
	require.NoError(t, err)

	require.Empty(t, cmp.Diff(first, second))
}

func TestComposeResourceNames(t *testing.T) {
	set, err := newTestComposer().Compose(newTestClaim("tenant-a"))
	require.NoError(t, err)

	require.Equal(t, "tenant-a", set.Template.Name)
	require.Equal(t, "tenant-a", set.WarmPool.Name)
	require.Equal(t, "tenant-a-workspace", set.PVC.Name)
	require.Equal(t, "tenant-a-scaler", set.Scaler.Name)
	require.Equal(t, "tenant-a-conn", set.ConnectionSecret.Name)
	require.Equal(t, "tenant-a", set.ServiceAccount.Name)
}

func TestComposePVCSize(t *testing.T) {
	composer := newTestComposer()

	set, err := composer.Compose(newTestClaim("tenant-a"))
	require.NoError(t, err)
	require.Equal(t, resource.MustParse("10Gi"), set.PVC.Spec.Resources.Requests[corev1.ResourceStorage])

	claim := newTestClaim("tenant-a")
	claim.Spec.StorageGB = 42
	set, err = composer.Compose(claim)
	require.NoError(t, err)
	require.Equal(t, resource.MustParse("42Gi"), set.PVC.Spec.Resources.Requests[corev1.ResourceStorage])
}

func TestComposeServiceOnlyWithPort(t *testing.T) {
	composer := newTestComposer()

	set, err := composer.Compose(newTestClaim("tenant-a"))
	require.NoError(t, err)
	require.Nil(t, set.Service)
	require.NotContains(t, set.ConnectionSecret.Data, "SANDBOX_HTTP_ENDPOINT")

	claim := newTestClaim("tenant-a")
	claim.Spec.HTTPPort = ptr.To(int32(8080))
	set, err = composer.Compose(claim)
	require.NoError(t, err)
	require.NotNil(t, set.Service)
	require.Equal(t, int32(8080), set.Service.Spec.Ports[0].Port)
	require.Equal(t, "tenant-a", set.Service.Spec.Selector["app.kubernetes.io/name"])
	require.Equal(t, "http://tenant-a.tenants.svc:8080", string(set.ConnectionSecret.Data["SANDBOX_HTTP_ENDPOINT"]))
}

func TestComposeConnectionSecret(t *testing.T) {
	set, err := newTestComposer().Compose(newTestClaim("tenant-a"))
	require.NoError(t, err)

	require.Equal(t, "tenant-a", string(set.ConnectionSecret.Data["SANDBOX_SERVICE_NAME"]))
	require.Equal(t, "tenants", string(set.ConnectionSecret.Data["SANDBOX_NAMESPACE"]))
}

func TestComposeScaler(t *testing.T) {
	set, err := newTestComposer().Compose(newTestClaim("tenant-a"))
	require.NoError(t, err)

	scaler := set.Scaler
	require.Equal(t, "SandboxWarmPool", scaler.Spec.ScaleTargetRef.Kind)
	require.Equal(t, "tenant-a", scaler.Spec.ScaleTargetRef.Name)
	require.Equal(t, int32(0), *scaler.Spec.MinReplicaCount)
	require.Equal(t, int32(1), *scaler.Spec.MaxReplicaCount)

	require.Len(t, scaler.Spec.Triggers, 1)
	trigger := scaler.Spec.Triggers[0]
	require.Equal(t, "nats-jetstream", trigger.Type)
	require.Equal(t, "agent-tasks", trigger.Metadata["stream"])
	require.Equal(t, "tenant-a-consumer", trigger.Metadata["consumer"])
	require.Equal(t, "nats://nats.platform.svc:4222", trigger.Metadata["natsServerMonitoringEndpoint"])
}

func TestComposePodTemplate(t *testing.T) {
	claim := newTestClaim("tenant-a")
	claim.Spec.HTTPPort = ptr.To(int32(8080))
	claim.Spec.HealthPath = "/healthz"
	claim.Spec.ReadyPath = "/readyz"
	claim.Spec.Size = platformv1alpha1.SizeMedium

	set, err := newTestComposer().Compose(claim)
	require.NoError(t, err)

	pod := set.WarmPool.Spec.PodTemplate.Spec
	require.Len(t, pod.InitContainers, 1)
	require.Len(t, pod.Containers, 2)

	hydrate := pod.InitContainers[0]
	require.Equal(t, HydrateContainerName, hydrate.Name)
	require.Equal(t, []string{"hydrate", "--copy-self=/sandbox-bin"}, hydrate.Args)

	main := pod.Containers[0]
	require.Equal(t, MainContainerName, main.Name)
	require.Equal(t, "registry.test/agent:v3", main.Image)
	require.Equal(t, []string{"/sandbox-bin/workspace-sync", "final"}, main.Lifecycle.PreStop.Exec.Command)
	require.NotNil(t, main.LivenessProbe)
	require.Equal(t, "/healthz", main.LivenessProbe.HTTPGet.Path)
	require.NotNil(t, main.ReadinessProbe)
	require.Equal(t, "/readyz", main.ReadinessProbe.HTTPGet.Path)
	require.Equal(t, resource.MustParse("500m"), main.Resources.Requests[corev1.ResourceCPU])

	backup := pod.Containers[1]
	require.Equal(t, BackupContainerName, backup.Name)
	require.Equal(t, []string{"backup", "--interval=5m0s"}, backup.Args)

	// The sandbox template and the warm pool carry the same pod template.
	require.Empty(t, cmp.Diff(set.Template.Spec.PodTemplate, set.WarmPool.Spec.PodTemplate))

	// The pool starts at zero and selects on the claim name label.
	require.Equal(t, int32(0), set.WarmPool.Spec.Replicas)
	require.Equal(t, "tenant-a", set.WarmPool.Spec.Selector.MatchLabels["app.kubernetes.io/name"])
}

func TestComposeRetainPVC(t *testing.T) {
	composer := newTestComposer()
	composer.PVCPolicy = DeletionPolicyRetain

	set, err := composer.Compose(newTestClaim("tenant-a"))
	require.NoError(t, err)
	require.True(t, set.RetainPVC)
}

func TestComposeSyncEnv(t *testing.T) {
	set, err := newTestComposer().Compose(newTestClaim("tenant-a"))
	require.NoError(t, err)

	env := map[string]string{}
	for _, e := range set.WarmPool.Spec.PodTemplate.Spec.InitContainers[0].Env {
		env[e.Name] = e.Value
	}
	require.Equal(t, "/workspace", env["WORKSPACE_DIR"])
	require.Equal(t, "minio.platform.svc:9000", env["WORKSPACE_S3_ENDPOINT"])
	require.Equal(t, "agent-workspaces", env["WORKSPACE_S3_BUCKET"])
	require.Equal(t, "false", env["WORKSPACE_S3_SECURE"])
	require.Equal(t, "workspaces/tenant-a/workspace.tar.gz", env["WORKSPACE_S3_KEY"])
}
