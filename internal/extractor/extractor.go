// Package extractor turns raw OCR output into ordered, typed field
// candidates. Entries that cannot be used are skipped rather than failing
// the whole batch.
package extractor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
)

// longTextThreshold is the value length above which a field is a textarea.
const longTextThreshold = 120

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02.01.2006",
	time.RFC3339,
}

// Result is the outcome of one extraction pass.
type Result struct {
	Fields  []model.FieldCandidate
	Content string
	Skipped int
}

// rawField accepts the spellings OCR engines use for the same members.
type rawField struct {
	Key         string          `json:"key"`
	Label       string          `json:"label"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Value       json.RawMessage `json:"value"`
	Placeholder string          `json:"placeholder"`
	Required    json.RawMessage `json:"required"`
	Options     json.RawMessage `json:"options"`
}

// Extract validates raw entries in engine order. The first occurrence of a
// normalized key wins.
func Extract(raw model.RawExtraction, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "extractor")

	res := Result{Fields: make([]model.FieldCandidate, 0, len(raw.Fields))}
	seen := make(map[string]struct{}, len(raw.Fields))
	for i, entry := range raw.Fields {
		field, err := decodeField(entry)
		if err != nil {
			res.Skipped++
			logger.Warn("skipping malformed field", "index", i, "error", err)
			continue
		}
		key := model.Normalize(field.Key)
		if _, dup := seen[key]; dup {
			res.Skipped++
			logger.Debug("skipping duplicate field", "index", i, "key", field.Key)
			continue
		}
		seen[key] = struct{}{}
		res.Fields = append(res.Fields, field)
	}

	lines := make([]string, 0, len(raw.Lines))
	for _, l := range raw.Lines {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	res.Content = strings.Join(lines, "\n")
	return res
}

func decodeField(entry json.RawMessage) (model.FieldCandidate, error) {
	var rf rawField
	if err := json.Unmarshal(entry, &rf); err != nil {
		return model.FieldCandidate{}, fmt.Errorf("decoding entry: %w", err)
	}
	key := firstNonEmpty(rf.Key, rf.Label, rf.Name)
	if key == "" {
		return model.FieldCandidate{}, fmt.Errorf("entry has no key")
	}
	value, err := scalarString(rf.Value)
	if err != nil {
		return model.FieldCandidate{}, fmt.Errorf("field %q value: %w", key, err)
	}
	options, err := decodeOptions(rf.Options)
	if err != nil {
		return model.FieldCandidate{}, fmt.Errorf("field %q options: %w", key, err)
	}
	required, err := decodeBool(rf.Required)
	if err != nil {
		return model.FieldCandidate{}, fmt.Errorf("field %q required: %w", key, err)
	}

	fieldType := model.FieldType(strings.ToLower(strings.TrimSpace(rf.Type)))
	if !fieldType.Valid() {
		fieldType = InferType(value, options)
	}
	return model.FieldCandidate{
		Key:          key,
		InferredType: fieldType,
		RawValue:     value,
		Placeholder:  strings.TrimSpace(rf.Placeholder),
		Required:     required,
		Options:      options,
	}, nil
}

// InferType derives a field type from a value and its option list.
func InferType(value string, options []string) model.FieldType {
	v := strings.TrimSpace(value)
	switch {
	case len(options) > 0:
		return model.FieldSelect
	case v == "":
		return model.FieldText
	case isNumeric(v):
		return model.FieldNumber
	case isDate(v):
		return model.FieldDate
	case strings.Contains(v, "\n") || len(v) > longTextThreshold:
		return model.FieldTextarea
	}
	return model.FieldText
}

func isNumeric(v string) bool {
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func isDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// scalarString renders a JSON string, number or bool as text. Objects and
// arrays are rejected.
func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return "", fmt.Errorf("unsupported value %s", string(raw))
}

// decodeOptions accepts a string array or a comma-separated string.
func decodeOptions(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil, fmt.Errorf("expected array or string")
		}
		list = make([]any, 0)
		for _, part := range strings.Split(joined, ",") {
			list = append(list, part)
		}
	}
	var out []string
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("option %v is not a string", item)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if t == "" {
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(t))
	}
	return false, fmt.Errorf("unsupported value %s", string(raw))
}
