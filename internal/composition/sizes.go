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
	"errors"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
)

// ErrUnknownSize is returned when a claim names a size class that has no
// entry in the lookup table. Composition fails closed: no partial resource
// set is rendered.
var ErrUnknownSize = errors.New("unknown sandbox size class")

// SizeClass holds the compute envelope for one size enum value.
type SizeClass struct {
	CPURequest    resource.Quantity
	CPULimit      resource.Quantity
	MemoryRequest resource.Quantity
	MemoryLimit   resource.Quantity
}

// SizeTable maps the claim size enum to compute envelopes.
type SizeTable map[platformv1alpha1.SandboxSize]SizeClass

// DefaultSizes is the platform size table.
func DefaultSizes() SizeTable {
	return SizeTable{
		platformv1alpha1.SizeMicro: {
			CPURequest:    resource.MustParse("100m"),
			CPULimit:      resource.MustParse("250m"),
			MemoryRequest: resource.MustParse("128Mi"),
			MemoryLimit:   resource.MustParse("256Mi"),
		},
		platformv1alpha1.SizeSmall: {
			CPURequest:    resource.MustParse("250m"),
			CPULimit:      resource.MustParse("500m"),
			MemoryRequest: resource.MustParse("512Mi"),
			MemoryLimit:   resource.MustParse("1Gi"),
		},
		platformv1alpha1.SizeMedium: {
			CPURequest:    resource.MustParse("500m"),
			CPULimit:      resource.MustParse("1"),
			MemoryRequest: resource.MustParse("1Gi"),
			MemoryLimit:   resource.MustParse("2Gi"),
		},
		platformv1alpha1.SizeLarge: {
			CPURequest:    resource.MustParse("1"),
			CPULimit:      resource.MustParse("2"),
			MemoryRequest: resource.MustParse("2Gi"),
			MemoryLimit:   resource.MustParse("4Gi"),
		},
	}
}

// requirements renders the corev1 resource block for a size class.
func (c SizeClass) requirements() corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    c.CPURequest,
			corev1.ResourceMemory: c.MemoryRequest,
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    c.CPULimit,
			corev1.ResourceMemory: c.MemoryLimit,
		},
	}
}
