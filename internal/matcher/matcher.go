// Package matcher reconciles extracted field candidates with the variable
// catalog. Category is always part of the matching key.
package matcher

import (
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
)

// DefaultCategory is used when neither the form nor the config names one.
const DefaultCategory = "uncategorized"

// Matcher produces one proposal per candidate. It holds no state between
// calls and is safe for concurrent use.
type Matcher struct {
	defaultCategory string
}

// New creates a Matcher that files proposals without a declared category
// under defaultCategory.
func New(defaultCategory string) *Matcher {
	if strings.TrimSpace(defaultCategory) == "" {
		defaultCategory = DefaultCategory
	}
	return &Matcher{defaultCategory: strings.TrimSpace(defaultCategory)}
}

// Category returns the category proposals for a form are filed under.
func (m *Matcher) Category(declared string) string {
	if c := strings.TrimSpace(declared); c != "" {
		return c
	}
	return m.defaultCategory
}

// Match returns proposals in candidate order. A candidate matches an
// existing variable when normalized name, normalized category and field type
// are all equal; catalog ties resolve by (category, name, id). A repeated
// key within one pass references the earlier proposal.
func (m *Matcher) Match(fields []model.FieldCandidate, category string, catalog []model.Variable) []model.MatchProposal {
	category = m.Category(category)

	sorted := slices.Clone(catalog)
	model.SortCatalog(sorted)
	index := make(map[string][]model.Variable, len(sorted))
	for _, v := range sorted {
		key := model.CatalogKey(v.Category, v.Name)
		index[key] = append(index[key], v)
	}

	proposed := make(map[string]model.VariableDefinition)
	out := make([]model.MatchProposal, 0, len(fields))
	for _, f := range fields {
		key := model.CatalogKey(category, f.Key)

		if v, ok := firstOfType(index[key], f.InferredType); ok {
			out = append(out, model.ExistingMatch(f.Key, model.VariableRef{Name: v.Name, Category: v.Category}))
			continue
		}
		if def, ok := proposed[key]; ok {
			out = append(out, model.ExistingMatch(f.Key, model.VariableRef{Name: def.Name, Category: def.Category}))
			continue
		}

		def := model.VariableDefinition{
			Name:        strings.TrimSpace(f.Key),
			Category:    category,
			Type:        f.InferredType,
			Required:    f.Required,
			Placeholder: f.Placeholder,
			Options:     slices.Clone(f.Options),
		}
		proposed[key] = def
		out = append(out, model.ProposedMatch(f.Key, def))
	}
	return out
}

func firstOfType(vars []model.Variable, t model.FieldType) (model.Variable, bool) {
	for _, v := range vars {
		if v.Value.FieldType == t {
			return v, true
		}
	}
	return model.Variable{}, false
}

// Summary counts proposals by variant.
func Summary(proposals []model.MatchProposal) (existing, proposed int) {
	for _, p := range proposals {
		if p.ExistingVariable != nil {
			existing++
		} else {
			proposed++
		}
	}
	return existing, proposed
}
