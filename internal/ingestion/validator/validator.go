// Package validator checks uploads against the content-type allow-list and
// size limit before anything is written to storage.
package validator

import (
	"fmt"
	"mime"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
)

const (
	DefaultMaxBytes   = 10 << 20
	maxFilenameLength = 255
	maxCategoryLength = 128
)

// DefaultAllowedTypes is the upload allow-list.
var DefaultAllowedTypes = []string{"application/pdf", "image/png", "image/jpeg"}

// aliases maps non-canonical spellings onto allow-list entries.
var aliases = map[string]string{
	"image/jpg":   "image/jpeg",
	"image/pjpeg": "image/jpeg",
}

// Rules are the limits enforced for one deployment.
type Rules struct {
	MaxBytes     int64
	AllowedTypes []string
}

func (r Rules) withDefaults() Rules {
	if r.MaxBytes <= 0 {
		r.MaxBytes = DefaultMaxBytes
	}
	if len(r.AllowedTypes) == 0 {
		r.AllowedTypes = DefaultAllowedTypes
	}
	return r
}

// CanonicalType strips parameters, lowercases and resolves aliases.
func CanonicalType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.ToLower(contentType))
	}
	if canonical, ok := aliases[mt]; ok {
		return canonical
	}
	return mt
}

// ValidateUpload returns a validation error listing every offending field.
// On success u.ContentType is canonical.
func ValidateUpload(u *ingestion.Upload, rules Rules) error {
	rules = rules.withDefaults()
	errs := make(map[string]string)

	if strings.TrimSpace(u.OwnerID) == "" {
		errs["owner"] = "owner is required"
	}
	ct := CanonicalType(u.ContentType)
	if !slices.Contains(rules.AllowedTypes, ct) {
		errs["file"] = fmt.Sprintf("content type %q is not allowed", u.ContentType)
	}
	switch {
	case u.Size <= 0:
		errs["size"] = "file is empty"
	case u.Size > rules.MaxBytes:
		errs["size"] = fmt.Sprintf("file must be at most %d bytes", rules.MaxBytes)
	}
	if len(u.Filename) > maxFilenameLength {
		errs["filename"] = fmt.Sprintf("filename must be at most %d characters", maxFilenameLength)
	}
	if len(u.Category) > maxCategoryLength {
		errs["category"] = fmt.Sprintf("category must be at most %d characters", maxCategoryLength)
	}

	if len(errs) > 0 {
		appErr := apperrors.Validation("validation failed")
		for field, msg := range errs {
			appErr.WithField(field, msg)
		}
		return appErr
	}
	u.ContentType = ct
	return nil
}

// Extension returns the storage key extension for a canonical type.
func Extension(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	return ""
}
