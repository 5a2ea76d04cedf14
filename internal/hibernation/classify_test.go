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

package hibernation

import (
	"testing"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
)

func poolWithReplicas(n int32) *extensionsv1alpha1.SandboxWarmPool {
	return &extensionsv1alpha1.SandboxWarmPool{
		Spec: extensionsv1alpha1.SandboxWarmPoolSpec{Replicas: n},
	}
}

func TestClassify(t *testing.T) {
	pvc := &corev1.PersistentVolumeClaim{}

	testCases := []struct {
		name        string
		claimExists bool
		pool        *extensionsv1alpha1.SandboxWarmPool
		pvc         *corev1.PersistentVolumeClaim
		expected    State
	}{
		{
			name:        "running pool is active",
			claimExists: true,
			pool:        poolWithReplicas(1),
			pvc:         pvc,
			expected:    StateActive,
		},
		{
			name:        "scaled-down pool with workspace is warm",
			claimExists: true,
			pool:        poolWithReplicas(0),
			pvc:         pvc,
			expected:    StateWarm,
		},
		{
			name:        "no claim and no workspace is cold",
			claimExists: false,
			pool:        nil,
			pvc:         nil,
			expected:    StateCold,
		},
		{
			name:        "claim gone but workspace lingering is transitional",
			claimExists: false,
			pool:        nil,
			pvc:         pvc,
			expected:    StateTransitional,
		},
		{
			name:        "claim without pool yet is transitional",
			claimExists: true,
			pool:        nil,
			pvc:         pvc,
			expected:    StateTransitional,
		},
		{
			name:        "scaled-down pool without workspace is transitional",
			claimExists: true,
			pool:        poolWithReplicas(0),
			pvc:         nil,
			expected:    StateTransitional,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, Classify(tc.claimExists, tc.pool, tc.pvc))
		})
	}
}
