// Package ingestion accepts document and form uploads, stores the payload,
// records the entity and triggers OCR processing without waiting for it.
package ingestion

import "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"

// Upload is one validated multipart upload.
type Upload struct {
	Kind        model.Kind
	OwnerID     string
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
	Category    string
}

// UploadResponse is returned once the entity is recorded and processing has
// been triggered.
type UploadResponse struct {
	DocumentID string       `json:"documentId,omitempty"`
	FormID     string       `json:"formId,omitempty"`
	Status     model.Status `json:"status"`
}

// NewUploadResponse names the id field after the entity kind.
func NewUploadResponse(kind model.Kind, id string, status model.Status) UploadResponse {
	if kind == model.KindForm {
		return UploadResponse{FormID: id, Status: status}
	}
	return UploadResponse{DocumentID: id, Status: status}
}
