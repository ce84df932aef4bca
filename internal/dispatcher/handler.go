package dispatcher

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/respond"
)

// ProcessRequest is the body of the internal process endpoints.
type ProcessRequest struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
}

// Handler exposes Process over HTTP behind a shared bearer secret.
type Handler struct {
	svc    *Service
	secret []byte
	logger *slog.Logger
}

func NewHandler(svc *Service, secret string) *Handler {
	return &Handler{
		svc:    svc,
		secret: []byte(secret),
		logger: slog.Default().With("component", "process-handler"),
	}
}

// Process returns the handler for POST /api/v1/{documents,forms}/process.
func (h *Handler) Process(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			respond.Message(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req ProcessRequest
		if err := respond.DecodeJSON(r, 0, &req); err != nil {
			respond.Error(w, h.logger, err, "invalid request")
			return
		}
		if strings.TrimSpace(req.ID) == "" {
			respond.Error(w, h.logger, apperrors.Validation("id is required").WithField("id", "required"), "invalid request")
			return
		}
		if strings.TrimSpace(req.OwnerID) == "" {
			respond.Error(w, h.logger, apperrors.Validation("ownerId is required").WithField("ownerId", "required"), "invalid request")
			return
		}

		res, err := h.svc.Process(r.Context(), kind, req.ID, req.OwnerID)
		if err != nil {
			respond.Error(w, h.logger, err, "processing failed")
			return
		}
		respond.JSON(w, http.StatusOK, res)
	}
}

// authorized compares the bearer token in constant time. An unset secret
// rejects every request.
func (h *Handler) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || len(h.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), h.secret) == 1
}
