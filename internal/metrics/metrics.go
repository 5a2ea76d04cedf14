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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Compositions counts claim reconciliations by outcome.
	Compositions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_compositions_total",
			Help: "Claim compositions by outcome (composed, invalid, apply_error).",
		},
		[]string{"outcome"},
	)

	// HibernationTransitions counts state machine transitions by kind.
	HibernationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_hibernation_transitions_total",
			Help: "Hibernation transitions applied (active_to_warm, warm_to_cold).",
		},
		[]string{"transition"},
	)

	// StuckTransitions counts hard expiries whose cascade did not converge
	// within the transition timeout.
	StuckTransitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_hibernation_stuck_total",
			Help: "Cold transitions reported stuck past the transition timeout.",
		},
	)

	// SweepDuration observes full TTL sweep passes.
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandbox_hibernation_sweep_seconds",
			Help:    "Duration of TTL sweep passes.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	ctrlmetrics.Registry.MustRegister(
		Compositions,
		HibernationTransitions,
		StuckTransitions,
		SweepDuration,
	)
}
