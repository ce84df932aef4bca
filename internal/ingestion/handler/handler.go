// Package handler exposes the upload endpoints.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/ingestion/uploader"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/respond"
)

// multipartOverhead allows for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

type Handler struct {
	uploader *uploader.Service
	maxBytes int64
	logger   *slog.Logger
}

func New(u *uploader.Service, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Handler{
		uploader: u,
		maxBytes: maxBytes,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

// Upload returns the handler for POST /api/v1/{documents,forms}/upload.
func (h *Handler) Upload(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.FromContext(ctx)
		principal, ok := auth.FromContext(ctx)
		if !ok {
			respond.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		u, err := h.readUpload(w, r)
		if err != nil {
			respond.Error(w, h.logger, err, "invalid upload")
			return
		}
		u.Kind = kind
		u.OwnerID = principal.OwnerID

		e, err := h.uploader.Upload(ctx, u)
		if err != nil {
			log.Warn("upload failed", "kind", kind, "status_code", apperrors.HTTPStatusCode(err), "error", err)
			respond.Error(w, h.logger, err, "upload failed")
			return
		}
		respond.JSON(w, http.StatusOK, ingestion.NewUploadResponse(kind, e.ID, e.Status))
	}
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (ingestion.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ingestion.Upload{}, apperrors.Validation("validation failed").WithField("size", "file exceeds the upload limit")
		}
		return ingestion.Upload{}, apperrors.Validation("expected a multipart form with a file part")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return ingestion.Upload{}, apperrors.Validation("validation failed").WithField("file", "file is required")
	}
	defer file.Close()

	// One byte past the limit is enough for the validator to reject it.
	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		return ingestion.Upload{}, apperrors.Validation("could not read file part")
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return ingestion.Upload{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
		Category:    strings.TrimSpace(r.FormValue("category")),
	}, nil
}
