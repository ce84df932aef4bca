// Package model defines the entities, field candidates, catalog variables and
// match proposals shared by every stage of the ingestion pipeline.
package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Kind distinguishes the two entity collections.
type Kind string

const (
	KindDocument Kind = "document"
	KindForm     Kind = "form"
)

// ParseKind accepts the singular or plural spelling used in URLs.
func ParseKind(s string) (Kind, bool) {
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "document":
		return KindDocument, true
	case "form":
		return KindForm, true
	}
	return "", false
}

// Table returns the name of the table or collection holding entities of k.
func (k Kind) Table() string { return string(k) + "s" }

// Status is the processing state of an entity.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CanTransition reports whether from → to is an edge of the state machine:
// pending → processing → {completed | failed}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Entity is a Document or Form tracked through the pipeline.
type Entity struct {
	ID              string           `json:"id"`
	Kind            Kind             `json:"kind"`
	OwnerID         string           `json:"ownerId"`
	Name            string           `json:"name"`
	ContentType     string           `json:"contentType"`
	SizeBytes       int64            `json:"sizeBytes"`
	PageCount       int              `json:"pageCount,omitempty"`
	StorageKey      string           `json:"storageKey"`
	Status          Status           `json:"status"`
	Category        string           `json:"category,omitempty"`
	OCRJobID        string           `json:"ocrJobId,omitempty"`
	ExtractedFields []FieldCandidate `json:"extractedFields,omitempty"`
	Content         string           `json:"content,omitempty"`
	ProcessedFields []Binding        `json:"processedFields,omitempty"`
	Finalized       bool             `json:"finalized"`
	FinalizedAt     *time.Time       `json:"finalizedAt,omitempty"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// HasField reports whether key names one of the entity's extracted fields.
func (e *Entity) HasField(key string) bool {
	for _, f := range e.ExtractedFields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// FieldType is the input type of an extracted field or catalog variable.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldTextarea FieldType = "textarea"
)

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldDate, FieldSelect, FieldTextarea:
		return true
	}
	return false
}

// FieldCandidate is a typed field produced by extraction and consumed by the
// matcher.
type FieldCandidate struct {
	Key          string    `json:"key"`
	InferredType FieldType `json:"inferredType"`
	RawValue     string    `json:"rawValue"`
	Placeholder  string    `json:"placeholder,omitempty"`
	Required     bool      `json:"required,omitempty"`
	Options      []string  `json:"options,omitempty"`
}

// VariableTypeFormField is the only variable type the pipeline creates.
const VariableTypeFormField = "formField"

// VariableValue is the type-specific definition stored with a variable.
type VariableValue struct {
	FieldType   FieldType `json:"fieldType"`
	Required    bool      `json:"required"`
	Placeholder string    `json:"placeholder,omitempty"`
	Options     []string  `json:"options,omitempty"`
}

// Variable is a durable catalog entry. Name is unique within Category after
// normalization.
type Variable struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Category  string        `json:"category"`
	Type      string        `json:"type"`
	Value     VariableValue `json:"value"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Binding attaches an extracted field to a catalog variable.
type Binding struct {
	Key          string `json:"key"`
	VariableID   string `json:"variableId"`
	VariableName string `json:"variableName"`
	Category     string `json:"category"`
}

// Normalize folds case and trims surrounding whitespace so names and
// categories compare the same regardless of how OCR or users spelled them.
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// CatalogKey is the uniqueness key of a variable within the catalog.
func CatalogKey(category, name string) string {
	return Normalize(category) + "\x00" + Normalize(name)
}

// SortCatalog orders variables by normalized (category, name) and then id.
func SortCatalog(vars []Variable) {
	sort.SliceStable(vars, func(i, j int) bool {
		ci, cj := Normalize(vars[i].Category), Normalize(vars[j].Category)
		if ci != cj {
			return ci < cj
		}
		ni, nj := Normalize(vars[i].Name), Normalize(vars[j].Name)
		if ni != nj {
			return ni < nj
		}
		return vars[i].ID < vars[j].ID
	})
}

// RawExtraction is an OCR engine's output before validation: loosely typed
// field entries in engine order plus recognised plain-text lines.
type RawExtraction struct {
	Fields []json.RawMessage `json:"fields"`
	Lines  []string          `json:"lines,omitempty"`
}
