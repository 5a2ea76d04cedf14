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
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
)

// SandboxWarmPoolReconciler keeps a pool's pod count at spec.replicas. KEDA
// drives replicas through the scale subresource; this reconciler only turns
// the number into pods.
type SandboxWarmPoolReconciler struct {
	client.Client
}

//+kubebuilder:rbac:groups=extensions.agents.x-k8s.io,resources=sandboxwarmpools,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=extensions.agents.x-k8s.io,resources=sandboxwarmpools/status,verbs=get;update;patch
//+kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch;create;update;patch;delete

// Reconcile implements the reconciliation loop for SandboxWarmPool.
func (r *SandboxWarmPoolReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	pool := &extensionsv1alpha1.SandboxWarmPool{}
	if err := r.Get(ctx, req.NamespacedName, pool); err != nil {
		if k8serrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to get warm pool %q: %w", req.NamespacedName, err)
	}

	if !pool.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	oldStatus := pool.Status.DeepCopy()

	if err := r.reconcilePool(ctx, pool); err != nil {
		return ctrl.Result{}, err
	}

	if err := r.updateStatus(ctx, oldStatus, pool); err != nil {
		logger.Error(err, "failed to update warm pool status")
		return ctrl.Result{}, err
	}

	return ctrl.Result{}, nil
}

// selector returns the pod selector for the pool. The scale subresource
// reports the same string so external scalers target the right pods.
func (r *SandboxWarmPoolReconciler) selector(pool *extensionsv1alpha1.SandboxWarmPool) (labels.Selector, error) {
	if pool.Spec.Selector == nil {
		return nil, fmt.Errorf("warm pool %q has no selector", pool.Name)
	}
	sel, err := metav1.LabelSelectorAsSelector(pool.Spec.Selector)
	if err != nil {
		return nil, fmt.Errorf("warm pool %q selector is invalid: %w", pool.Name, err)
	}
	return sel, nil
}

// reconcilePool creates or deletes pods until the live count matches
// spec.replicas, adopting matching orphans along the way.
func (r *SandboxWarmPoolReconciler) reconcilePool(ctx context.Context, pool *extensionsv1alpha1.SandboxWarmPool) error {
	logger := log.FromContext(ctx)

	sel, err := r.selector(pool)
	if err != nil {
		return err
	}

	podList := &corev1.PodList{}
	if err := r.List(ctx, podList, &client.ListOptions{
		LabelSelector: sel,
		Namespace:     pool.Namespace,
	}); err != nil {
		return fmt.Errorf("failed to list pool pods: %w", err)
	}

	var activePods []corev1.Pod
	var readyCount int32
	var allErrors error

	for _, pod := range podList.Items {
		if !pod.DeletionTimestamp.IsZero() {
			continue
		}

		controllerRef := metav1.GetControllerOf(&pod)
		switch {
		case controllerRef == nil:
			logger.Info("adopting orphaned pod", "pod", pod.Name)
			if err := r.adoptPod(ctx, pool, &pod); err != nil {
				allErrors = errors.Join(allErrors, fmt.Errorf("failed to adopt pod %q: %w", pod.Name, err))
				continue
			}
		case controllerRef.UID != pool.UID:
			// Another controller's pod happens to match the selector.
			continue
		}

		activePods = append(activePods, pod)
		if podReady(&pod) {
			readyCount++
		}
	}

	desired := pool.Spec.Replicas
	current := int32(len(activePods))

	pool.Status.Replicas = current
	pool.Status.ReadyReplicas = readyCount
	pool.Status.Selector = sel.String()

	if current < desired {
		logger.Info("scaling pool up", "desired", desired, "current", current)
		for i := current; i < desired; i++ {
			if err := r.createPoolPod(ctx, pool); err != nil {
				allErrors = errors.Join(allErrors, err)
			}
		}
	}

	if current > desired {
		logger.Info("scaling pool down", "desired", desired, "current", current)
		for i := int32(0); i < current-desired; i++ {
			pod := &activePods[i]
			if err := r.Delete(ctx, pod); err != nil && !k8serrors.IsNotFound(err) {
				allErrors = errors.Join(allErrors, fmt.Errorf("failed to delete pod %q: %w", pod.Name, err))
			}
		}
	}

	return allErrors
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// adoptPod sets this pool as the controller of an orphaned matching pod.
func (r *SandboxWarmPoolReconciler) adoptPod(ctx context.Context, pool *extensionsv1alpha1.SandboxWarmPool, pod *corev1.Pod) error {
	if err := controllerutil.SetControllerReference(pool, pod, r.Scheme()); err != nil {
		return err
	}
	return r.Update(ctx, pod)
}

// createPoolPod creates one pod from the pool's template. Selector labels
// are merged into the template labels so the new pod matches the pool.
func (r *SandboxWarmPoolReconciler) createPoolPod(ctx context.Context, pool *extensionsv1alpha1.SandboxWarmPool) error {
	logger := log.FromContext(ctx)

	podLabels := make(map[string]string)
	for k, v := range pool.Spec.PodTemplate.Labels {
		podLabels[k] = v
	}
	if pool.Spec.Selector != nil {
		for k, v := range pool.Spec.Selector.MatchLabels {
			podLabels[k] = v
		}
	}

	podAnnotations := make(map[string]string)
	for k, v := range pool.Spec.PodTemplate.Annotations {
		podAnnotations[k] = v
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: fmt.Sprintf("%s-", pool.Name),
			Namespace:    pool.Namespace,
			Labels:       podLabels,
			Annotations:  podAnnotations,
		},
		Spec: pool.Spec.PodTemplate.Spec,
	}

	if err := ctrl.SetControllerReference(pool, pod, r.Scheme()); err != nil {
		return fmt.Errorf("failed to set controller reference on pool pod: %w", err)
	}

	if err := r.Create(ctx, pod); err != nil {
		return fmt.Errorf("failed to create pool pod: %w", err)
	}

	logger.Info("created pool pod", "pod", pod.Name, "pool", pool.Name)
	return nil
}

// updateStatus writes pool status only when it changed.
func (r *SandboxWarmPoolReconciler) updateStatus(ctx context.Context, oldStatus *extensionsv1alpha1.SandboxWarmPoolStatus, pool *extensionsv1alpha1.SandboxWarmPool) error {
	if equality.Semantic.DeepEqual(oldStatus, &pool.Status) {
		return nil
	}
	return r.Status().Update(ctx, pool)
}

// SetupWithManager sets up the controller with the Manager.
func (r *SandboxWarmPoolReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&extensionsv1alpha1.SandboxWarmPool{}).
		Owns(&corev1.Pod{}).
		Complete(r)
}
