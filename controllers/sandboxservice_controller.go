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
	"reflect"
	"sort"

	kedav1alpha1 "github.com/kedacore/keda/v2/apis/keda/v1alpha1"
	corev1 "k8s.io/api/core/v1"
	k8errors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
	"github.com/bizmatters/agent-sandbox-operator/internal/composition"
	"github.com/bizmatters/agent-sandbox-operator/internal/metrics"
)

// FieldOwner identifies this operator in server-side apply managed fields.
const FieldOwner = "agent-sandbox-operator"

// AgentSandboxServiceReconciler reconciles an AgentSandboxService claim into
// its derived resource set.
type AgentSandboxServiceReconciler struct {
	client.Client
	Scheme       *runtime.Scheme
	Composer     *composition.Composer
	Instrumenter metrics.Instrumenter
}

//+kubebuilder:rbac:groups=platform.bizmatters.io,resources=agentsandboxservices,verbs=get;list;watch;update;patch;delete
//+kubebuilder:rbac:groups=platform.bizmatters.io,resources=agentsandboxservices/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=extensions.agents.x-k8s.io,resources=sandboxtemplates;sandboxwarmpools,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=keda.sh,resources=scaledobjects,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=persistentvolumeclaims;services;serviceaccounts;secrets,verbs=get;list;watch;create;update;patch;delete

// Reconcile renders the claim's resource set and applies it, then reports
// Synced and Ready conditions. Deletion needs no work here: every derived
// resource except a retained PVC is owned by the claim and garbage
// collection cascades.
func (r *AgentSandboxServiceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	claim := &platformv1alpha1.AgentSandboxService{}
	if err := r.Get(ctx, req.NamespacedName, claim); err != nil {
		if k8errors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to get claim %q: %w", req.NamespacedName, err)
	}

	if !claim.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	ctx, done := r.instrumenter().StartSpan(ctx, claim, metrics.SpanReconcile, map[string]string{
		"claim.name":      claim.Name,
		"claim.namespace": claim.Namespace,
	})
	defer done()

	originalStatus := claim.Status.DeepCopy()

	set, err := r.Composer.Compose(claim)
	if errors.Is(err, composition.ErrInvalidClaim) {
		// A malformed claim will not fix itself; report it and wait for
		// the next spec change instead of requeueing.
		metrics.Compositions.WithLabelValues("invalid").Inc()
		r.setSyncedCondition(claim, metav1.ConditionFalse, platformv1alpha1.ReasonInvalidClaim, err.Error())
		r.setReadyCondition(claim, metav1.ConditionFalse, platformv1alpha1.ReasonWaiting, "claim is invalid")
		return ctrl.Result{}, r.updateStatus(ctx, originalStatus, claim)
	}
	if err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to compose resources for claim %q: %w", req.NamespacedName, err)
	}

	applyErr := r.applySet(ctx, claim, set)
	if applyErr != nil {
		metrics.Compositions.WithLabelValues("apply_error").Inc()
		r.setSyncedCondition(claim, metav1.ConditionFalse, platformv1alpha1.ReasonApplyError, applyErr.Error())
	} else {
		metrics.Compositions.WithLabelValues("composed").Inc()
		r.instrumenter().AddEvent(ctx, metrics.EventComposed, map[string]string{"claim.name": claim.Name})
		r.setSyncedCondition(claim, metav1.ConditionTrue, platformv1alpha1.ReasonComposed, "derived resources applied")
	}

	r.observeReadiness(ctx, claim, set)

	if updateErr := r.updateStatus(ctx, originalStatus, claim); updateErr != nil {
		applyErr = errors.Join(applyErr, updateErr)
	}
	return ctrl.Result{}, applyErr
}

// applySet server-side applies every rendered resource, owning each with the
// claim so deletion cascades. A retained PVC is the one exception.
func (r *AgentSandboxServiceReconciler) applySet(ctx context.Context, claim *platformv1alpha1.AgentSandboxService, set *composition.ResourceSet) error {
	logger := log.FromContext(ctx)

	var errs []error
	for _, obj := range set.Objects() {
		if obj != set.PVC || !set.RetainPVC {
			if err := controllerutil.SetControllerReference(claim, obj, r.Scheme); err != nil {
				errs = append(errs, fmt.Errorf("failed to set owner on %T %q: %w", obj, obj.GetName(), err))
				continue
			}
		}
		if err := r.Patch(ctx, obj, client.Apply, client.FieldOwner(FieldOwner), client.ForceOwnership); err != nil {
			logger.Error(err, "failed to apply derived resource", "kind", fmt.Sprintf("%T", obj), "name", obj.GetName())
			errs = append(errs, fmt.Errorf("failed to apply %T %q: %w", obj, obj.GetName(), err))
		}
	}

	// The Service exists iff httpPort is set. Apply alone never removes it,
	// so a claim whose port was cleared needs the old Service pruned.
	if set.Service == nil {
		stale := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Namespace: claim.Namespace, Name: claim.Name}}
		if err := r.Delete(ctx, stale); client.IgnoreNotFound(err) != nil {
			errs = append(errs, fmt.Errorf("failed to delete stale service %q: %w", claim.Name, err))
		}
	}
	return errors.Join(errs...)
}

// observeReadiness fills status from the applied resources' observed state.
func (r *AgentSandboxServiceReconciler) observeReadiness(ctx context.Context, claim *platformv1alpha1.AgentSandboxService, set *composition.ResourceSet) {
	var waiting []string

	pvc := &corev1.PersistentVolumeClaim{}
	pvcKey := types.NamespacedName{Namespace: claim.Namespace, Name: composition.WorkspacePVCName(claim.Name)}
	if err := r.Get(ctx, pvcKey, pvc); err != nil || pvc.Status.Phase != corev1.ClaimBound {
		waiting = append(waiting, "workspace PVC not bound")
	}

	pool := &extensionsv1alpha1.SandboxWarmPool{}
	if err := r.Get(ctx, client.ObjectKeyFromObject(claim), pool); err == nil {
		claim.Status.WarmPoolReplicas = pool.Status.Replicas
	} else {
		waiting = append(waiting, "warm pool not found")
	}

	claim.Status.Endpoint = ""
	if set.Service != nil {
		svc := &corev1.Service{}
		if err := r.Get(ctx, client.ObjectKeyFromObject(claim), svc); err != nil || svc.Spec.ClusterIP == "" {
			waiting = append(waiting, "service not programmed")
		} else {
			claim.Status.Endpoint = fmt.Sprintf("http://%s.%s.svc:%d", claim.Name, claim.Namespace, *claim.Spec.HTTPPort)
		}
	}

	if len(waiting) == 0 {
		r.setReadyCondition(claim, metav1.ConditionTrue, platformv1alpha1.ReasonResourcesReady, "all derived resources ready")
		return
	}
	sort.Strings(waiting)
	msg := waiting[0]
	for _, w := range waiting[1:] {
		msg += "; " + w
	}
	r.setReadyCondition(claim, metav1.ConditionFalse, platformv1alpha1.ReasonWaiting, msg)
}

func (r *AgentSandboxServiceReconciler) setSyncedCondition(claim *platformv1alpha1.AgentSandboxService, status metav1.ConditionStatus, reason, message string) {
	meta.SetStatusCondition(&claim.Status.Conditions, metav1.Condition{
		Type:               platformv1alpha1.ConditionSynced,
		Status:             status,
		ObservedGeneration: claim.Generation,
		Reason:             reason,
		Message:            message,
	})
}

func (r *AgentSandboxServiceReconciler) setReadyCondition(claim *platformv1alpha1.AgentSandboxService, status metav1.ConditionStatus, reason, message string) {
	meta.SetStatusCondition(&claim.Status.Conditions, metav1.Condition{
		Type:               platformv1alpha1.ConditionReady,
		Status:             status,
		ObservedGeneration: claim.Generation,
		Reason:             reason,
		Message:            message,
	})
}

func (r *AgentSandboxServiceReconciler) updateStatus(ctx context.Context, oldStatus *platformv1alpha1.AgentSandboxServiceStatus, claim *platformv1alpha1.AgentSandboxService) error {
	logger := log.FromContext(ctx)

	sort.Slice(oldStatus.Conditions, func(i, j int) bool {
		return oldStatus.Conditions[i].Type < oldStatus.Conditions[j].Type
	})
	sort.Slice(claim.Status.Conditions, func(i, j int) bool {
		return claim.Status.Conditions[i].Type < claim.Status.Conditions[j].Type
	})

	if reflect.DeepEqual(oldStatus, &claim.Status) {
		return nil
	}

	if err := r.Status().Update(ctx, claim); err != nil {
		logger.Error(err, "failed to update claim status")
		return err
	}
	return nil
}

func (r *AgentSandboxServiceReconciler) instrumenter() metrics.Instrumenter {
	if r.Instrumenter == nil {
		return metrics.NewNoOp()
	}
	return r.Instrumenter
}

// SetupWithManager sets up the controller with the Manager.
func (r *AgentSandboxServiceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&platformv1alpha1.AgentSandboxService{}).
		Owns(&extensionsv1alpha1.SandboxTemplate{}).
		Owns(&extensionsv1alpha1.SandboxWarmPool{}).
		Owns(&kedav1alpha1.ScaledObject{}).
		Owns(&corev1.PersistentVolumeClaim{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.Secret{}).
		Complete(r)
}
