// Package registry implements the model lifecycle state machine and the
// baseline-gated promotion to PRODUCTION, built directly on the catalog's
// CAS and transactional promotion primitives.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
	"github.com/r3e-network/fraudctl/internal/app/storage"
)

// Registry wraps a storage.Catalog with the model lifecycle rules.
type Registry struct {
	catalog storage.Catalog
}

// New builds a Registry over catalog.
func New(catalog storage.Catalog) *Registry {
	return &Registry{catalog: catalog}
}

// Stage transitions a TRAINED model to STAGING, the only entry point to
// becoming eligible for promotion.
func (r *Registry) Stage(ctx context.Context, modelID string) error {
	return r.catalog.PatchModelState(ctx, modelID, model.StatusTrained, model.StatusStaging)
}

// Demote reverses Stage, moving a STAGING model back to TRAINED.
func (r *Registry) Demote(ctx context.Context, modelID string) error {
	return r.catalog.PatchModelState(ctx, modelID, model.StatusStaging, model.StatusTrained)
}

// BaselinesNotMetError lists every Baseline the candidate model fails,
// returned instead of proceeding with promotion.
type BaselinesNotMetError struct {
	ModelID  string
	Failures []string
}

func (e *BaselinesNotMetError) Error() string {
	return fmt.Sprintf("model %s fails baselines: %s", e.ModelID, strings.Join(e.Failures, "; "))
}

// Promote runs the baseline check and, if it passes, the catalog's atomic
// promote-to-production transaction, returning the newly PRODUCTION model
// and the demoted incumbent (if any). The ModelActivated event the
// transaction emits is what notifies the inference service of the swap.
func (r *Registry) Promote(ctx context.Context, modelID string) (promoted model.Model, demoted *model.Model, err error) {
	target, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return model.Model{}, nil, err
	}
	if target.Status != model.StatusStaging {
		return model.Model{}, nil, apperr.NewConflictingState("model %s must be STAGING to promote, is %s", modelID, target.Status)
	}

	if err := r.checkBaselines(ctx, target); err != nil {
		return model.Model{}, nil, err
	}

	return r.catalog.PromoteToProduction(ctx, modelID)
}

func (r *Registry) checkBaselines(ctx context.Context, target model.Model) error {
	baselines, err := r.catalog.ListBaselines(ctx, target.ID)
	if err != nil {
		return err
	}
	var failures []string
	for _, b := range baselines {
		value, ok := target.Metrics.Get(b.MetricName)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: no such metric", b.MetricName))
			continue
		}
		if !b.Operator.Satisfied(value, b.Threshold) {
			failures = append(failures, fmt.Sprintf("%s %s %.4f (actual %.4f)", b.MetricName, b.Operator, b.Threshold, value))
		}
	}
	if len(failures) > 0 {
		return &BaselinesNotMetError{ModelID: target.ID, Failures: failures}
	}
	return nil
}

// Retire explicitly archives a PRODUCTION model with no promotion
// candidate to replace it.
func (r *Registry) Retire(ctx context.Context, modelID string, reason string) (model.Model, error) {
	if reason == "" {
		reason = "retired"
	}
	return r.catalog.RetireModel(ctx, modelID, reason)
}

// Reinstate re-promotes an ARCHIVED model, moving it to STAGING and then
// through Promote's baseline check; it is the only way back from ARCHIVED.
// No retention window is checked: a model archived at any time can be
// reinstated.
func (r *Registry) Reinstate(ctx context.Context, modelID string) (promoted model.Model, demoted *model.Model, err error) {
	target, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return model.Model{}, nil, err
	}
	if target.Status != model.StatusArchived {
		return model.Model{}, nil, apperr.NewConflictingState("model %s must be ARCHIVED to reinstate, is %s", modelID, target.Status)
	}
	if err := r.catalog.PatchModelState(ctx, modelID, model.StatusArchived, model.StatusStaging); err != nil {
		return model.Model{}, nil, err
	}
	return r.Promote(ctx, modelID)
}
