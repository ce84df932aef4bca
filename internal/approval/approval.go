// Package approval applies reviewed match decisions to a completed form:
// new catalog variables are created, every decided field is bound, and the
// form is finalized, all in one transaction.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/tracing"
)

// Result is returned after a successful approval.
type Result struct {
	ProcessedFields []model.Binding  `json:"processedFields"`
	NewVariables    []model.Variable `json:"newVariables"`
}

// Processor applies approvals.
type Processor struct {
	store   store.Store
	matcher *matcher.Matcher
	metrics *metrics.Metrics
	events  events.Tracker
	logger  *slog.Logger
}

// NewProcessor creates a Processor. Decisions without a category are filed
// under m's default category.
func NewProcessor(st store.Store, m *matcher.Matcher, met *metrics.Metrics, tracker events.Tracker) *Processor {
	if tracker == nil {
		tracker = events.Nop{}
	}
	return &Processor{
		store:   st,
		matcher: m,
		metrics: met,
		events:  tracker,
		logger:  slog.Default().With("component", "approval"),
	}
}

// Approve finalizes formID with decisions. Nothing is written unless every
// decision resolves.
func (p *Processor) Approve(ctx context.Context, formID string, scope store.Scope, decisions []model.MatchProposal) (*Result, error) {
	ctx, span := tracing.Start(ctx, "approval.approve")
	span.SetAttr("form_id", formID)
	span.SetAttr("decisions", len(decisions))
	defer span.End()

	res, err := p.approve(ctx, formID, scope, decisions)
	p.record(res, err)
	return res, err
}

func (p *Processor) approve(ctx context.Context, formID string, scope store.Scope, decisions []model.MatchProposal) (*Result, error) {
	if formID == "" {
		return nil, apperrors.Validation("formId is required").WithField("formId", "required")
	}
	if err := validateDecisions(decisions); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("component", "approval", "entity_id", formID)

	var res Result
	var ownerID string
	err := p.store.InApproval(ctx, func(tx store.ApprovalTx) error {
		form, err := tx.LockForm(ctx, formID, scope)
		if err != nil {
			return err
		}
		ownerID = form.OwnerID
		if form.Status != model.StatusCompleted {
			return apperrors.InvalidState("form %s is %s, not completed", formID, form.Status)
		}
		if form.Finalized {
			return apperrors.InvalidState("form %s is already finalized", formID)
		}

		res = Result{
			ProcessedFields: make([]model.Binding, 0, len(decisions)),
			NewVariables:    []model.Variable{},
		}
		for i, d := range decisions {
			if !form.HasField(d.FieldKey) {
				return apperrors.Validation("decision %d references unknown field %q", i, d.FieldKey)
			}
			v, created, err := p.resolve(ctx, tx, d)
			if err != nil {
				return err
			}
			if created {
				res.NewVariables = append(res.NewVariables, *v)
			}
			res.ProcessedFields = append(res.ProcessedFields, model.Binding{
				Key:          d.FieldKey,
				VariableID:   v.ID,
				VariableName: v.Name,
				Category:     v.Category,
			})
		}

		applied, err := tx.Finalize(ctx, formID, res.ProcessedFields)
		if err != nil {
			return fmt.Errorf("finalizing form %s: %w", formID, err)
		}
		if !applied {
			return apperrors.InvalidState("form %s changed during approval", formID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.events.Track(events.Event{
		Type:     events.FormFinalized,
		Kind:     string(model.KindForm),
		EntityID: formID,
		OwnerID:  ownerID,
		Count:    len(res.ProcessedFields),
	})
	log.Info("form finalized", "bindings", len(res.ProcessedFields), "new_variables", len(res.NewVariables))
	return &res, nil
}

// resolve returns the variable a decision binds to, creating it for a
// proposal unless the normalized (category, name) already exists.
func (p *Processor) resolve(ctx context.Context, tx store.ApprovalTx, d model.MatchProposal) (*model.Variable, bool, error) {
	if ref := d.ExistingVariable; ref != nil {
		category := p.matcher.Category(ref.Category)
		v, err := tx.FindVariable(ctx, category, ref.Name)
		if err != nil {
			return nil, false, fmt.Errorf("looking up variable %q: %w", ref.Name, err)
		}
		if v == nil {
			return nil, false, apperrors.NotFound("variable %q in category %q not found", ref.Name, category)
		}
		return v, false, nil
	}

	def := d.ProposedVariable
	v := &model.Variable{
		Name:     strings.TrimSpace(def.Name),
		Category: p.matcher.Category(def.Category),
		Type:     model.VariableTypeFormField,
		Value: model.VariableValue{
			FieldType:   def.Type,
			Required:    def.Required,
			Placeholder: def.Placeholder,
			Options:     slices.Clone(def.Options),
		},
	}
	created, err := tx.InsertVariable(ctx, v)
	if err != nil {
		return nil, false, fmt.Errorf("creating variable %q: %w", def.Name, err)
	}
	// A proposal only reuses a same-named variable of the same field type.
	if !created && v.Value.FieldType != def.Type {
		return nil, false, apperrors.InvalidState("variable %q in category %q already exists with type %s, not %s",
			v.Name, v.Category, v.Value.FieldType, def.Type)
	}
	return v, created, nil
}

func validateDecisions(decisions []model.MatchProposal) error {
	if len(decisions) == 0 {
		return apperrors.Validation("decisions must not be empty").WithField("decisions", "required")
	}
	seen := make(map[string]struct{}, len(decisions))
	for i, d := range decisions {
		if err := d.Validate(); err != nil {
			return apperrors.Validation("decision %d: %s", i, apperrors.Message(err, err.Error()))
		}
		if _, dup := seen[d.FieldKey]; dup {
			return apperrors.Validation("field %q has more than one decision", d.FieldKey)
		}
		seen[d.FieldKey] = struct{}{}
	}
	return nil
}

func (p *Processor) record(res *Result, err error) {
	if p.metrics == nil {
		return
	}
	outcome := "finalized"
	if err != nil {
		outcome = fmt.Sprintf("rejected_%d", apperrors.HTTPStatusCode(err))
	} else {
		p.metrics.VariablesCreatedTotal.Add(float64(len(res.NewVariables)))
	}
	p.metrics.ApprovalsTotal.WithLabelValues(outcome).Inc()
}
