// Package store persists documents, forms and the variable catalog. Every
// status change is a conditional write that only applies when the entity is
// still in the expected prior status.
package store

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
)

// Scope restricts reads and writes to one owner unless Privileged is set.
type Scope struct {
	OwnerID    string
	Privileged bool
}

// Unrestricted is used by internal callers that resolve entities by id or
// job id, such as the notification receiver.
var Unrestricted = Scope{Privileged: true}

// Allows reports whether an entity owned by ownerID is visible in s.
func (s Scope) Allows(ownerID string) bool {
	return s.Privileged || (s.OwnerID != "" && s.OwnerID == ownerID)
}

// ListOptions paginates entity listings.
type ListOptions struct {
	Limit  int
	Offset int
}

func (o ListOptions) normalized() ListOptions {
	if o.Limit <= 0 || o.Limit > 100 {
		o.Limit = 20
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Store is the entity store used by every pipeline stage.
type Store interface {
	// Create inserts a new entity. The caller sets ID, Kind and Status.
	Create(ctx context.Context, e *model.Entity) error
	Get(ctx context.Context, kind model.Kind, id string, scope Scope) (*model.Entity, error)
	List(ctx context.Context, kind model.Kind, scope Scope, opts ListOptions) ([]*model.Entity, error)
	Delete(ctx context.Context, kind model.Kind, id string, scope Scope) (*model.Entity, error)

	// Transition moves the entity from → to and reports whether it applied.
	Transition(ctx context.Context, kind model.Kind, id string, from, to model.Status) (bool, error)
	// Complete stores extraction output and moves processing → completed.
	Complete(ctx context.Context, kind model.Kind, id string, fields []model.FieldCandidate, content string) (bool, error)
	// Fail records reason and moves processing → failed.
	Fail(ctx context.Context, kind model.Kind, id string, reason string) (bool, error)
	SetJobID(ctx context.Context, kind model.Kind, id, jobID string) error
	FindByJobID(ctx context.Context, kind model.Kind, jobID string) (*model.Entity, error)

	// ListVariables returns the catalog ordered by (category, name, id). An
	// empty category returns every variable.
	ListVariables(ctx context.Context, category string) ([]model.Variable, error)
	// InApproval runs fn in a single transaction. Nothing fn wrote persists
	// when it returns an error.
	InApproval(ctx context.Context, fn func(tx ApprovalTx) error) error

	Ping(ctx context.Context) error
}

// ApprovalTx is the transactional view used by the approval processor.
type ApprovalTx interface {
	// LockForm loads a form and holds it until the transaction ends.
	LockForm(ctx context.Context, id string, scope Scope) (*model.Entity, error)
	// FindVariable returns nil when no variable matches the normalized key.
	FindVariable(ctx context.Context, category, name string) (*model.Variable, error)
	// InsertVariable creates v, or fills v from the existing row when the
	// normalized (category, name) is already taken. It reports whether a new
	// row was created.
	InsertVariable(ctx context.Context, v *model.Variable) (bool, error)
	// Finalize writes bindings and sets the finalized flag on a completed,
	// not yet finalized form.
	Finalize(ctx context.Context, formID string, bindings []model.Binding) (bool, error)
}

func notFound(kind model.Kind, id string) error {
	return apperrors.NotFound("%s %s not found", kind, id)
}
