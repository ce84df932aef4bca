package model

import (
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
)

// VariableRef names an existing catalog variable.
type VariableRef struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// VariableDefinition describes a variable the matcher proposes to create.
type VariableDefinition struct {
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Placeholder string    `json:"placeholder,omitempty"`
	Options     []string  `json:"options,omitempty"`
}

// MatchProposal binds one field key either to an existing variable or to a
// proposed new one. Exactly one of the two is set.
type MatchProposal struct {
	FieldKey         string              `json:"fieldKey"`
	ExistingVariable *VariableRef        `json:"existingVariable,omitempty"`
	ProposedVariable *VariableDefinition `json:"proposedVariable,omitempty"`
}

// ExistingMatch builds a proposal referencing an existing variable.
func ExistingMatch(fieldKey string, ref VariableRef) MatchProposal {
	return MatchProposal{FieldKey: fieldKey, ExistingVariable: &ref}
}

// ProposedMatch builds a proposal for a new variable.
func ProposedMatch(fieldKey string, def VariableDefinition) MatchProposal {
	return MatchProposal{FieldKey: fieldKey, ProposedVariable: &def}
}

// Validate checks the variant invariant and the members each variant needs.
func (p MatchProposal) Validate() error {
	if strings.TrimSpace(p.FieldKey) == "" {
		return apperrors.Validation("fieldKey is required")
	}
	switch {
	case p.ExistingVariable != nil && p.ProposedVariable != nil:
		return apperrors.Validation("field %q: only one of existingVariable or proposedVariable may be set", p.FieldKey)
	case p.ExistingVariable != nil:
		if strings.TrimSpace(p.ExistingVariable.Name) == "" {
			return apperrors.Validation("field %q: existingVariable.name is required", p.FieldKey)
		}
	case p.ProposedVariable != nil:
		def := p.ProposedVariable
		if strings.TrimSpace(def.Name) == "" {
			return apperrors.Validation("field %q: proposedVariable.name is required", p.FieldKey)
		}
		if !def.Type.Valid() {
			return apperrors.Validation("field %q: unsupported field type %q", p.FieldKey, def.Type)
		}
	default:
		return apperrors.Validation("field %q: one of existingVariable or proposedVariable is required", p.FieldKey)
	}
	return nil
}
