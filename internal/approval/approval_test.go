package approval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
)

var owner = store.Scope{OwnerID: "owner-1"}

func seedForm(t *testing.T, st *store.Memory, id string, status model.Status, keys ...string) {
	t.Helper()
	fields := make([]model.FieldCandidate, len(keys))
	for i, k := range keys {
		fields[i] = model.FieldCandidate{Key: k, InferredType: model.FieldText}
	}
	err := st.Create(context.Background(), &model.Entity{
		ID:              id,
		Kind:            model.KindForm,
		OwnerID:         "owner-1",
		Status:          status,
		Category:        "Party Info",
		ExtractedFields: fields,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func proposed(key, name string) model.MatchProposal {
	return model.ProposedMatch(key, model.VariableDefinition{Name: name, Category: "Party Info", Type: model.FieldText})
}

func existing(key, name string) model.MatchProposal {
	return model.ExistingMatch(key, model.VariableRef{Name: name, Category: "Party Info"})
}

func newProcessor(st store.Store) *Processor {
	return NewProcessor(st, matcher.New(""), nil, nil)
}

func catalogSize(t *testing.T, st store.Store) int {
	t.Helper()
	vars, err := st.ListVariables(context.Background(), "")
	if err != nil {
		t.Fatalf("ListVariables: %v", err)
	}
	return len(vars)
}

func TestApproveCreatesVariableAndFinalizes(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusCompleted, "Plaintiff Name")
	p := newProcessor(st)

	res, err := p.Approve(context.Background(), "f1", owner, []model.MatchProposal{proposed("Plaintiff Name", "Plaintiff Name")})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(res.NewVariables) != 1 || res.NewVariables[0].Name != "Plaintiff Name" || res.NewVariables[0].ID == "" {
		t.Fatalf("new variables = %+v", res.NewVariables)
	}
	if len(res.ProcessedFields) != 1 || res.ProcessedFields[0].VariableID != res.NewVariables[0].ID {
		t.Fatalf("bindings = %+v", res.ProcessedFields)
	}

	form, _ := st.Get(context.Background(), model.KindForm, "f1", owner)
	if !form.Finalized || form.FinalizedAt == nil || len(form.ProcessedFields) != 1 {
		t.Errorf("form = %+v", form)
	}

	_, err = p.Approve(context.Background(), "f1", owner, []model.MatchProposal{proposed("Plaintiff Name", "Plaintiff Name")})
	if apperrors.HTTPStatusCode(err) != http.StatusConflict {
		t.Errorf("second approval: %v", err)
	}
	if n := catalogSize(t, st); n != 1 {
		t.Errorf("catalog has %d variables", n)
	}
}

func TestApproveRejectsProcessingForm(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusProcessing, "Plaintiff Name")

	_, err := newProcessor(st).Approve(context.Background(), "f1", owner, []model.MatchProposal{proposed("Plaintiff Name", "Plaintiff Name")})
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
	if n := catalogSize(t, st); n != 0 {
		t.Errorf("catalog has %d variables, want 0", n)
	}
}

func TestApproveMissingOrForeignForm(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusCompleted, "A")
	p := newProcessor(st)
	decisions := []model.MatchProposal{proposed("A", "A")}

	if _, err := p.Approve(context.Background(), "nope", owner, decisions); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing form: %v", err)
	}
	if _, err := p.Approve(context.Background(), "f1", store.Scope{OwnerID: "intruder"}, decisions); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("foreign form: %v", err)
	}
	if _, err := p.Approve(context.Background(), "f1", store.Scope{OwnerID: "admin", Privileged: true}, decisions); err != nil {
		t.Errorf("privileged approval: %v", err)
	}
}

func TestApproveRollsBackOnMissingVariable(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusCompleted, "A", "B")

	_, err := newProcessor(st).Approve(context.Background(), "f1", owner, []model.MatchProposal{
		proposed("A", "A"),
		existing("B", "Does Not Exist"),
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if n := catalogSize(t, st); n != 0 {
		t.Errorf("catalog has %d variables after rollback", n)
	}
	form, _ := st.Get(context.Background(), model.KindForm, "f1", owner)
	if form.Finalized {
		t.Error("form finalized despite failure")
	}
}

func TestApproveResolvesVariablesCreatedInSameApproval(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusCompleted, "Defendant", "defendant (2)")

	res, err := newProcessor(st).Approve(context.Background(), "f1", owner, []model.MatchProposal{
		proposed("Defendant", "Defendant"),
		existing("defendant (2)", "DEFENDANT"),
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(res.NewVariables) != 1 {
		t.Fatalf("new variables = %+v", res.NewVariables)
	}
	if res.ProcessedFields[0].VariableID != res.ProcessedFields[1].VariableID {
		t.Errorf("bindings should share a variable: %+v", res.ProcessedFields)
	}
}

func TestApproveReusesExistingVariableForProposal(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusCompleted, "Name")
	seedForm(t, st, "f2", model.StatusCompleted, "name")
	p := newProcessor(st)

	first, err := p.Approve(context.Background(), "f1", owner, []model.MatchProposal{proposed("Name", "Name")})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := p.Approve(context.Background(), "f2", owner, []model.MatchProposal{proposed("name", " NAME ")})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(second.NewVariables) != 0 {
		t.Errorf("expected reuse, got %+v", second.NewVariables)
	}
	if second.ProcessedFields[0].VariableID != first.NewVariables[0].ID {
		t.Errorf("binding %+v does not reuse %s", second.ProcessedFields[0], first.NewVariables[0].ID)
	}
}

func TestApproveRejectsProposalClashingWithOtherType(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusCompleted, "Amount")
	seedForm(t, st, "f2", model.StatusCompleted, "Amount")
	p := newProcessor(st)

	if _, err := p.Approve(context.Background(), "f1", owner, []model.MatchProposal{proposed("Amount", "Amount")}); err != nil {
		t.Fatalf("first: %v", err)
	}
	numeric := model.ProposedMatch("Amount", model.VariableDefinition{Name: "amount", Category: "Party Info", Type: model.FieldNumber})
	_, err := p.Approve(context.Background(), "f2", owner, []model.MatchProposal{numeric})
	if !errors.Is(err, apperrors.ErrInvalidState) || apperrors.HTTPStatusCode(err) != http.StatusConflict {
		t.Fatalf("err = %v, want 409", err)
	}
	if n := catalogSize(t, st); n != 1 {
		t.Errorf("catalog size = %d, want 1", n)
	}
	form, _ := st.Get(context.Background(), model.KindForm, "f2", owner)
	if form.Finalized {
		t.Error("form finalized despite type clash")
	}

	// Binding to the existing variable is still allowed.
	if _, err := p.Approve(context.Background(), "f2", owner, []model.MatchProposal{existing("Amount", "amount")}); err != nil {
		t.Errorf("existing reference: %v", err)
	}
}

func TestApproveValidation(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusCompleted, "A")
	p := newProcessor(st)
	both := proposed("A", "A")
	both.ExistingVariable = &model.VariableRef{Name: "A"}

	tests := []struct {
		name      string
		formID    string
		decisions []model.MatchProposal
	}{
		{"missing form id", "", []model.MatchProposal{proposed("A", "A")}},
		{"no decisions", "f1", nil},
		{"both variants", "f1", []model.MatchProposal{both}},
		{"neither variant", "f1", []model.MatchProposal{{FieldKey: "A"}}},
		{"unknown field", "f1", []model.MatchProposal{proposed("Z", "Z")}},
		{"duplicate field", "f1", []model.MatchProposal{proposed("A", "A"), proposed("A", "B")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Approve(context.Background(), tt.formID, owner, tt.decisions)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
	if n := catalogSize(t, st); n != 0 {
		t.Errorf("catalog has %d variables", n)
	}
}

func TestHandler(t *testing.T) {
	st := store.NewMemory()
	seedForm(t, st, "f1", model.StatusCompleted, "Plaintiff Name")
	h := NewHandler(newProcessor(st))
	body := `{"formId":"f1","decisions":[{"fieldKey":"Plaintiff Name","proposedVariable":{"name":"Plaintiff Name","category":"Party Info","type":"text"}}]}`

	rec := httptest.NewRecorder()
	h.ApproveMatches(rec, httptest.NewRequest(http.MethodPost, "/api/v1/forms/approve-matches", strings.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forms/approve-matches", strings.NewReader(body))
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{OwnerID: "owner-1"}))
	rec = httptest.NewRecorder()
	h.ApproveMatches(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"processedFields"`) || !strings.Contains(rec.Body.String(), `"newVariables"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
