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

// Package hibernation drives the Active/Warm/Cold lifecycle of agent
// sandboxes from heartbeat age. State is never stored: it is derived from
// live resource existence and replica counts on every evaluation, so a
// stored flag can never drift from reality.
package hibernation

import (
	corev1 "k8s.io/api/core/v1"

	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
)

// State is the derived hibernation classification.
type State string

const (
	// StateActive: claim exists and the warm pool runs at least one replica.
	StateActive State = "Active"

	// StateWarm: claim exists, pool is scaled to zero, workspace PVC kept.
	StateWarm State = "Warm"

	// StateCold: claim and PVC are both gone. Resuming requires full
	// resurrection through the gateway.
	StateCold State = "Cold"

	// StateTransitional covers the eventually-consistent windows between
	// the stable states, e.g. claim deleted while PVC deletion is still in
	// flight.
	StateTransitional State = "Transitional"
)

// Classify derives the hibernation state from live resources. pool and pvc
// are nil when the respective object does not exist.
func Classify(claimExists bool, pool *extensionsv1alpha1.SandboxWarmPool, pvc *corev1.PersistentVolumeClaim) State {
	if !claimExists {
		if pvc == nil {
			return StateCold
		}
		// Cascade still running.
		return StateTransitional
	}
	if pool != nil && pool.Spec.Replicas >= 1 {
		return StateActive
	}
	if pool != nil && pool.Spec.Replicas == 0 && pvc != nil {
		return StateWarm
	}
	return StateTransitional
}
