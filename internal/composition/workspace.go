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
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
	"github.com/bizmatters/agent-sandbox-operator/internal/workspace"
)

// Workspace pipeline constants shared by all three phases.
const (
	WorkspaceMountPath = "/workspace"
	workspaceVolume    = "workspace"

	// syncBinVolume is an emptyDir the hydration init container copies the
	// workspace-sync binary into, so the main container's preStop hook can
	// exec it without the agent image shipping it.
	syncBinVolume    = "sandbox-bin"
	syncBinMountPath = "/sandbox-bin"

	MainContainerName    = "main"
	HydrateContainerName = "workspace-hydrate"
	BackupContainerName  = "workspace-backup"
)

// rootContext runs the container as root. Hydration writes restored files
// as the extracting uid, so all phases share uid 0 and the agent can modify
// everything the archive restores.
func rootContext() *corev1.SecurityContext {
	return &corev1.SecurityContext{
		RunAsNonRoot:             ptr.To(false),
		RunAsUser:                ptr.To(int64(0)),
		AllowPrivilegeEscalation: ptr.To(true),
	}
}

// syncEnv is the environment the workspace-sync binary reads in every phase.
func (c *Composer) syncEnv(claim *platformv1alpha1.AgentSandboxService) []corev1.EnvVar {
	return []corev1.EnvVar{
		{Name: "WORKSPACE_DIR", Value: WorkspaceMountPath},
		{Name: "WORKSPACE_S3_ENDPOINT", Value: c.Storage.Endpoint},
		{Name: "WORKSPACE_S3_BUCKET", Value: c.Storage.Bucket},
		{Name: "WORKSPACE_S3_SECURE", Value: fmt.Sprintf("%t", c.Storage.UseSSL)},
		{Name: "WORKSPACE_S3_KEY", Value: workspace.Key(claim.Name)},
	}
}

func (c *Composer) syncImage(claim *platformv1alpha1.AgentSandboxService) string {
	if claim.Spec.InitImage != "" {
		return claim.Spec.InitImage
	}
	return c.SyncImage
}

// hydrationInitContainer restores the workspace from the claim's backup
// object before the main container starts. A missing backup is the
// legitimate first run; any other storage failure fails pod startup.
func (c *Composer) hydrationInitContainer(claim *platformv1alpha1.AgentSandboxService) corev1.Container {
	return corev1.Container{
		Name:    HydrateContainerName,
		Image:   c.syncImage(claim),
		Command: []string{"workspace-sync"},
		Args:    []string{"hydrate", "--copy-self=" + syncBinMountPath},
		Env:     c.syncEnv(claim),
		EnvFrom: []corev1.EnvFromSource{PlatformEnvSource(&claim.Spec)},
		VolumeMounts: []corev1.VolumeMount{
			{Name: workspaceVolume, MountPath: WorkspaceMountPath},
			{Name: syncBinVolume, MountPath: syncBinMountPath},
		},
		SecurityContext: rootContext(),
	}
}

// backupSidecar archives the workspace to object storage on a fixed
// interval for the pod's lifetime. Best effort: upload failures are logged
// and retried next cycle.
func (c *Composer) backupSidecar(claim *platformv1alpha1.AgentSandboxService) corev1.Container {
	return corev1.Container{
		Name:    BackupContainerName,
		Image:   c.syncImage(claim),
		Command: []string{"workspace-sync"},
		Args:    []string{"backup", "--interval=" + c.BackupInterval.String()},
		Env:     c.syncEnv(claim),
		EnvFrom: []corev1.EnvFromSource{PlatformEnvSource(&claim.Spec)},
		VolumeMounts: []corev1.VolumeMount{
			{Name: workspaceVolume, MountPath: WorkspaceMountPath},
		},
		SecurityContext: rootContext(),
	}
}

// mainContainer is the agent workload. Its preStop hook performs the final
// synchronous backup pass, bounded by the pod termination grace period.
func (c *Composer) mainContainer(claim *platformv1alpha1.AgentSandboxService, size SizeClass) corev1.Container {
	container := corev1.Container{
		Name:      MainContainerName,
		Image:     claim.Spec.Image,
		Command:   claim.Spec.Command,
		Args:      claim.Spec.Args,
		Env:       c.syncEnv(claim),
		EnvFrom:   EnvSources(&claim.Spec),
		Resources: size.requirements(),
		VolumeMounts: []corev1.VolumeMount{
			{Name: workspaceVolume, MountPath: WorkspaceMountPath},
			{Name: syncBinVolume, MountPath: syncBinMountPath},
		},
		Lifecycle: &corev1.Lifecycle{
			PreStop: &corev1.LifecycleHandler{
				Exec: &corev1.ExecAction{
					Command: []string{syncBinMountPath + "/workspace-sync", "final"},
				},
			},
		},
		SecurityContext: rootContext(),
	}

	if port := claim.Spec.HTTPPort; port != nil {
		container.Ports = []corev1.ContainerPort{
			{Name: "http", ContainerPort: *port, Protocol: corev1.ProtocolTCP},
		}
		if claim.Spec.HealthPath != "" {
			container.LivenessProbe = httpProbe(claim.Spec.HealthPath, *port)
		}
		if claim.Spec.ReadyPath != "" {
			container.ReadinessProbe = httpProbe(claim.Spec.ReadyPath, *port)
		}
	}
	return container
}

func httpProbe(path string, port int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{
				Path: path,
				Port: intstr.FromInt32(port),
			},
		},
		InitialDelaySeconds: 5,
		PeriodSeconds:       10,
	}
}
