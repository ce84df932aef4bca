package approval

import (
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/respond"
)

// Request is the body of POST /api/v1/forms/approve-matches.
type Request struct {
	FormID    string                `json:"formId"`
	Decisions []model.MatchProposal `json:"decisions"`
}

type Handler struct {
	processor *Processor
	logger    *slog.Logger
}

func NewHandler(p *Processor) *Handler {
	return &Handler{processor: p, logger: slog.Default().With("component", "approval-handler")}
}

func (h *Handler) ApproveMatches(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		respond.Message(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req Request
	if err := respond.DecodeJSON(r, 4<<20, &req); err != nil {
		respond.Error(w, h.logger, err, "invalid request")
		return
	}
	res, err := h.processor.Approve(r.Context(), req.FormID, principal.Scope(), req.Decisions)
	if err != nil {
		respond.Error(w, h.logger, err, "approval failed")
		return
	}
	respond.JSON(w, http.StatusOK, res)
}
