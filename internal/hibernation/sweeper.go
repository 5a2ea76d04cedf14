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
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
	"github.com/bizmatters/agent-sandbox-operator/internal/composition"
	"github.com/bizmatters/agent-sandbox-operator/internal/metrics"
)

// Sweeper periodically scans claims and drives them down the hibernation
// ladder. A claim whose heartbeat is older than SoftTTL has its warm pool
// scaled to zero; older than HardTTL, the claim itself is deleted and the
// cascade tears the resource set down to the workspace archive.
//
// The sweeper observes heartbeats, it never writes them. Scale-ups are
// KEDA's job.
type Sweeper struct {
	Client client.Client
	Clock  clock.WithTicker

	SoftTTL       time.Duration
	HardTTL       time.Duration
	SweepInterval time.Duration
	// TransitionTimeout bounds how long a deleted claim may linger with
	// resources still present before it is reported as stuck.
	TransitionTimeout time.Duration

	// PVCPolicy mirrors the composer's setting. Under Retain the workspace
	// PVC outlives the claim on purpose and is excluded from teardown checks.
	PVCPolicy composition.DeletionPolicy

	Instrumenter metrics.Instrumenter

	// pending tracks claims deleted by this sweeper whose cascade has not
	// finished. Keyed by claim, valued by deletion time.
	pending map[types.NamespacedName]time.Time
}

// NeedLeaderElection ensures only the elected manager runs the sweep loop.
func (s *Sweeper) NeedLeaderElection() bool { return true }

func (s *Sweeper) defaults() {
	if s.Clock == nil {
		s.Clock = clock.RealClock{}
	}
	if s.Instrumenter == nil {
		s.Instrumenter = metrics.NewNoOp()
	}
	if s.pending == nil {
		s.pending = map[types.NamespacedName]time.Time{}
	}
}

// Start runs the sweep loop until ctx is cancelled. It implements
// manager.Runnable.
func (s *Sweeper) Start(ctx context.Context) error {
	s.defaults()

	logger := ctrl.LoggerFrom(ctx).WithName("hibernation-sweeper")
	logger.Info("starting sweep loop", "interval", s.SweepInterval, "softTTL", s.SoftTTL, "hardTTL", s.HardTTL)

	ticker := s.Clock.NewTicker(s.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over all claims, then checks in-flight teardowns.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.defaults()
	logger := ctrl.LoggerFrom(ctx).WithName("hibernation-sweeper")
	ctx, done := s.Instrumenter.StartSpan(ctx, nil, metrics.SpanSweep, nil)
	defer done()

	start := s.Clock.Now()
	defer func() {
		metrics.SweepDuration.Observe(s.Clock.Since(start).Seconds())
	}()

	var claims platformv1alpha1.AgentSandboxServiceList
	if err := s.Client.List(ctx, &claims); err != nil {
		logger.Error(err, "failed to list claims")
		return
	}

	now := s.Clock.Now()
	for i := range claims.Items {
		claim := &claims.Items[i]
		if !claim.DeletionTimestamp.IsZero() {
			continue
		}
		idle, hasHeartbeat := s.idleFor(claim, now)
		switch {
		case hasHeartbeat && idle >= s.HardTTL:
			s.hardExpire(ctx, claim, idle)
		case !hasHeartbeat && now.Sub(claim.CreationTimestamp.Time) >= s.HardTTL:
			// Never-active claims are held to the hard TTL from creation
			// so a sandbox that came up moments ago is not torn down.
			s.hardExpire(ctx, claim, idle)
		case idle >= s.SoftTTL:
			s.softExpire(ctx, claim, idle)
		}
	}

	s.checkPending(ctx, now)
}

// idleFor returns how long the claim has been without activity. A claim
// that has never heartbeat reports false and is treated as idle since
// creation.
func (s *Sweeper) idleFor(claim *platformv1alpha1.AgentSandboxService, now time.Time) (time.Duration, bool) {
	raw, ok := claim.Annotations[platformv1alpha1.HeartbeatAnnotation]
	if !ok {
		return now.Sub(claim.CreationTimestamp.Time), false
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Malformed heartbeats count as absent rather than pinning the
		// claim active forever.
		return now.Sub(claim.CreationTimestamp.Time), false
	}
	return now.Sub(last), true
}

// softExpire scales the claim's warm pool to zero. Idempotent: a pool
// already at zero is left alone.
func (s *Sweeper) softExpire(ctx context.Context, claim *platformv1alpha1.AgentSandboxService, idle time.Duration) {
	logger := ctrl.LoggerFrom(ctx).WithName("hibernation-sweeper")
	key := types.NamespacedName{Namespace: claim.Namespace, Name: claim.Name}

	scaled := false
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		var pool extensionsv1alpha1.SandboxWarmPool
		if err := s.Client.Get(ctx, key, &pool); err != nil {
			return err
		}
		if Classify(true, &pool, s.workspacePVC(ctx, key)) != StateActive {
			// Already Warm, or mid transition. Nothing to scale.
			return nil
		}
		pool.Spec.Replicas = 0
		scaled = true
		return s.Client.Update(ctx, &pool)
	})
	if apierrors.IsNotFound(err) {
		return
	}
	if err != nil {
		logger.Error(err, "failed to scale warm pool to zero", "claim", key)
		return
	}
	if !scaled {
		return
	}

	logger.Info("soft TTL expired, scaled warm pool to zero", "claim", key, "idle", idle)
	s.Instrumenter.AddEvent(ctx, metrics.EventSoftExpiry, map[string]string{"claim": key.String()})
	metrics.HibernationTransitions.WithLabelValues("active_to_warm").Inc()
}

// hardExpire deletes the claim and records the teardown as pending until
// the cascade completes.
func (s *Sweeper) hardExpire(ctx context.Context, claim *platformv1alpha1.AgentSandboxService, idle time.Duration) {
	logger := ctrl.LoggerFrom(ctx).WithName("hibernation-sweeper")
	key := types.NamespacedName{Namespace: claim.Namespace, Name: claim.Name}
	if _, inFlight := s.pending[key]; inFlight {
		return
	}

	if err := s.Client.Delete(ctx, claim); err != nil && !apierrors.IsNotFound(err) {
		logger.Error(err, "failed to delete expired claim", "claim", key)
		return
	}

	logger.Info("hard TTL expired, deleted claim", "claim", key, "idle", idle)
	s.Instrumenter.AddEvent(ctx, metrics.EventHardExpiry, map[string]string{"claim": key.String()})
	metrics.HibernationTransitions.WithLabelValues("warm_to_cold").Inc()
	s.pending[key] = s.Clock.Now()
}

// checkPending verifies that deleted claims actually reached Cold. A
// teardown still classified Transitional past TransitionTimeout is reported
// stuck and dropped from tracking so it is surfaced exactly once.
func (s *Sweeper) checkPending(ctx context.Context, now time.Time) {
	logger := ctrl.LoggerFrom(ctx).WithName("hibernation-sweeper")
	for key, deletedAt := range s.pending {
		var claim platformv1alpha1.AgentSandboxService
		claimExists := !apierrors.IsNotFound(s.Client.Get(ctx, key, &claim))

		var pvc *corev1.PersistentVolumeClaim
		if s.PVCPolicy != composition.DeletionPolicyRetain {
			// A retained PVC outlives the claim on purpose and must not
			// hold the teardown in Transitional.
			pvc = s.workspacePVC(ctx, key)
		}

		if Classify(claimExists, nil, pvc) == StateCold {
			delete(s.pending, key)
			continue
		}
		if now.Sub(deletedAt) >= s.TransitionTimeout {
			logger.Info("teardown stuck past timeout", "claim", key, "elapsed", now.Sub(deletedAt))
			s.Instrumenter.AddEvent(ctx, metrics.EventStuck, map[string]string{"claim": key.String()})
			metrics.StuckTransitions.Inc()
			delete(s.pending, key)
		}
	}
}

// workspacePVC fetches the claim's workspace PVC for classification, nil
// when it does not exist.
func (s *Sweeper) workspacePVC(ctx context.Context, key types.NamespacedName) *corev1.PersistentVolumeClaim {
	pvc := &corev1.PersistentVolumeClaim{}
	pvcKey := types.NamespacedName{Namespace: key.Namespace, Name: composition.WorkspacePVCName(key.Name)}
	if err := s.Client.Get(ctx, pvcKey, pvc); err != nil {
		return nil
	}
	return pvc
}
