package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/google/uuid"
)

// Memory is an in-process Store used for local runs and tests.
type Memory struct {
	mu        sync.Mutex
	entities  map[model.Kind]map[string]*model.Entity
	variables map[string]*model.Variable
	now       func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entities: map[model.Kind]map[string]*model.Entity{
			model.KindDocument: {},
			model.KindForm:     {},
		},
		variables: make(map[string]*model.Variable),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Create(_ context.Context, e *model.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.entities[e.Kind]
	if !ok {
		return apperrors.Validation("unknown entity kind %q", e.Kind)
	}
	if _, exists := table[e.ID]; exists {
		return apperrors.InvalidState("%s %s already exists", e.Kind, e.ID)
	}
	now := m.now()
	e.CreatedAt, e.UpdatedAt = now, now
	table[e.ID] = cloneEntity(e)
	return nil
}

func (m *Memory) Get(_ context.Context, kind model.Kind, id string, scope Scope) (*model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[kind][id]
	if !ok || !scope.Allows(e.OwnerID) {
		return nil, notFound(kind, id)
	}
	return cloneEntity(e), nil
}

func (m *Memory) List(_ context.Context, kind model.Kind, scope Scope, opts ListOptions) ([]*model.Entity, error) {
	opts = opts.normalized()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Entity
	for _, e := range m.entities[kind] {
		if scope.Allows(e.OwnerID) {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if opts.Offset >= len(out) {
		return []*model.Entity{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, kind model.Kind, id string, scope Scope) (*model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[kind][id]
	if !ok || !scope.Allows(e.OwnerID) {
		return nil, notFound(kind, id)
	}
	delete(m.entities[kind], id)
	return e, nil
}

func (m *Memory) Transition(_ context.Context, kind model.Kind, id string, from, to model.Status) (bool, error) {
	return m.update(kind, id, func(e *model.Entity) bool {
		if e.Status != from || !model.CanTransition(from, to) {
			return false
		}
		e.Status = to
		return true
	})
}

func (m *Memory) Complete(_ context.Context, kind model.Kind, id string, fields []model.FieldCandidate, content string) (bool, error) {
	return m.update(kind, id, func(e *model.Entity) bool {
		if e.Status != model.StatusProcessing {
			return false
		}
		e.Status = model.StatusCompleted
		e.ExtractedFields = cloneFields(fields)
		e.Content = content
		e.Error = ""
		return true
	})
}

func (m *Memory) Fail(_ context.Context, kind model.Kind, id string, reason string) (bool, error) {
	return m.update(kind, id, func(e *model.Entity) bool {
		if e.Status != model.StatusProcessing {
			return false
		}
		e.Status = model.StatusFailed
		e.Error = reason
		return true
	})
}

func (m *Memory) SetJobID(_ context.Context, kind model.Kind, id, jobID string) error {
	_, err := m.update(kind, id, func(e *model.Entity) bool {
		e.OCRJobID = jobID
		return true
	})
	return err
}

func (m *Memory) FindByJobID(_ context.Context, kind model.Kind, jobID string) (*model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities[kind] {
		if jobID != "" && e.OCRJobID == jobID {
			return cloneEntity(e), nil
		}
	}
	return nil, apperrors.NotFound("no %s for job %s", kind, jobID)
}

func (m *Memory) update(kind model.Kind, id string, apply func(e *model.Entity) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[kind][id]
	if !ok {
		return false, notFound(kind, id)
	}
	if !apply(e) {
		return false, nil
	}
	e.UpdatedAt = m.now()
	return true, nil
}

func (m *Memory) ListVariables(_ context.Context, category string) ([]model.Variable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listVariablesLocked(category), nil
}

func (m *Memory) listVariablesLocked(category string) []model.Variable {
	key := model.Normalize(category)
	out := make([]model.Variable, 0, len(m.variables))
	for _, v := range m.variables {
		if category == "" || model.Normalize(v.Category) == key {
			out = append(out, cloneVariable(v))
		}
	}
	model.SortCatalog(out)
	return out
}

// InApproval holds the store lock for the whole of fn and applies staged
// writes only when fn succeeds.
func (m *Memory) InApproval(ctx context.Context, fn func(tx ApprovalTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{m: m, staged: make(map[string]*model.Variable)}
	if err := fn(tx); err != nil {
		return err
	}
	for key, v := range tx.staged {
		m.variables[key] = v
	}
	if tx.finalize != nil {
		if e, ok := m.entities[model.KindForm][tx.finalize.ID]; ok {
			*e = *tx.finalize
		}
	}
	return nil
}

type memoryTx struct {
	m        *Memory
	staged   map[string]*model.Variable
	finalize *model.Entity
}

func (tx *memoryTx) LockForm(_ context.Context, id string, scope Scope) (*model.Entity, error) {
	e, ok := tx.m.entities[model.KindForm][id]
	if !ok || !scope.Allows(e.OwnerID) {
		return nil, notFound(model.KindForm, id)
	}
	return cloneEntity(e), nil
}

func (tx *memoryTx) FindVariable(_ context.Context, category, name string) (*model.Variable, error) {
	key := model.CatalogKey(category, name)
	if v, ok := tx.staged[key]; ok {
		out := cloneVariable(v)
		return &out, nil
	}
	if v, ok := tx.m.variables[key]; ok {
		out := cloneVariable(v)
		return &out, nil
	}
	return nil, nil
}

func (tx *memoryTx) InsertVariable(ctx context.Context, v *model.Variable) (bool, error) {
	existing, _ := tx.FindVariable(ctx, v.Category, v.Name)
	if existing != nil {
		*v = *existing
		return false, nil
	}
	now := tx.m.now()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Type == "" {
		v.Type = model.VariableTypeFormField
	}
	v.CreatedAt, v.UpdatedAt = now, now
	stored := cloneVariable(v)
	tx.staged[model.CatalogKey(v.Category, v.Name)] = &stored
	return true, nil
}

func (tx *memoryTx) Finalize(_ context.Context, formID string, bindings []model.Binding) (bool, error) {
	e, ok := tx.m.entities[model.KindForm][formID]
	if !ok {
		return false, notFound(model.KindForm, formID)
	}
	if e.Status != model.StatusCompleted || e.Finalized {
		return false, nil
	}
	now := tx.m.now()
	updated := cloneEntity(e)
	updated.ProcessedFields = slices.Clone(bindings)
	updated.Finalized = true
	updated.FinalizedAt = &now
	updated.UpdatedAt = now
	tx.finalize = updated
	return true, nil
}

func cloneEntity(e *model.Entity) *model.Entity {
	c := *e
	c.ExtractedFields = cloneFields(e.ExtractedFields)
	c.ProcessedFields = slices.Clone(e.ProcessedFields)
	if e.FinalizedAt != nil {
		t := *e.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}

func cloneFields(fields []model.FieldCandidate) []model.FieldCandidate {
	if fields == nil {
		return nil
	}
	out := make([]model.FieldCandidate, len(fields))
	for i, f := range fields {
		f.Options = slices.Clone(f.Options)
		out[i] = f
	}
	return out
}

func cloneVariable(v *model.Variable) model.Variable {
	c := *v
	c.Value.Options = slices.Clone(v.Value.Options)
	return c
}
