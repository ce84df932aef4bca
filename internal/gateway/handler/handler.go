// Package handler implements the read side of the pipeline API: entity
// retrieval and listing, file download, match review, document deletion and
// the variable catalog. Uploads, processing and approval live with their services.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/objectstore"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/respond"
)

// Reader is the part of the entity store the read API needs.
type Reader interface {
	Get(ctx context.Context, kind model.Kind, id string, scope store.Scope) (*model.Entity, error)
	List(ctx context.Context, kind model.Kind, scope store.Scope, opts store.ListOptions) ([]*model.Entity, error)
	ListVariables(ctx context.Context, category string) ([]model.Variable, error)
}

// Deleter removes an entity together with its stored object.
type Deleter interface {
	Delete(ctx context.Context, kind model.Kind, id string, scope store.Scope) error
}

// Reviewer computes match proposals for a completed form.
type Reviewer interface {
	Matches(ctx context.Context, form *model.Entity) ([]model.MatchProposal, error)
}

// Signer issues short-lived read URLs for stored files.
type Signer interface {
	SignedReadURL(ctx context.Context, key string) (string, error)
}

type Handler struct {
	store    Reader
	deleter  Deleter
	reviewer Reviewer
	signer   Signer
	logger   *slog.Logger
}

func New(st Reader, deleter Deleter, reviewer Reviewer, signer Signer) *Handler {
	return &Handler{
		store:    st,
		deleter:  deleter,
		reviewer: reviewer,
		signer:   signer,
		logger:   slog.Default().With("component", "api-handler"),
	}
}

// GetEntity returns one document or form owned by the caller.
func (h *Handler) GetEntity(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		e, err := h.store.Get(r.Context(), kind, r.PathValue("id"), p.Scope())
		if err != nil {
			respond.Error(w, h.logger, err, "failed to fetch "+string(kind))
			return
		}
		respond.JSON(w, http.StatusOK, e)
	}
}

// Download redirects the owner to a signed URL for the stored file.
func (h *Handler) Download(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		e, err := h.store.Get(r.Context(), kind, r.PathValue("id"), p.Scope())
		if err != nil {
			respond.Error(w, h.logger, err, "failed to fetch "+string(kind))
			return
		}
		if e.StorageKey == "" {
			respond.Error(w, h.logger, apperrors.NotFound("%s %s has no stored file", kind, e.ID), "")
			return
		}
		u, err := h.signer.SignedReadURL(r.Context(), e.StorageKey)
		if errors.Is(err, objectstore.ErrNotFound) {
			err = apperrors.NotFound("file for %s %s not found", kind, e.ID)
		}
		if err != nil {
			respond.Error(w, h.logger, err, "failed to sign download url")
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, u, http.StatusFound)
	}
}

// ListEntities returns a page of the caller's documents or forms, newest
// first. limit defaults to 20 and is capped at 100.
func (h *Handler) ListEntities(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		opts := store.ListOptions{Limit: 20}
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				opts.Limit = n
			}
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				opts.Offset = n
			}
		}

		items, err := h.store.List(r.Context(), kind, p.Scope(), opts)
		if err != nil {
			respond.Error(w, h.logger, err, "failed to list "+kind.Table())
			return
		}
		if items == nil {
			items = []*model.Entity{}
		}
		respond.JSON(w, http.StatusOK, map[string]any{
			kind.Table(): items,
			"count":      len(items),
			"limit":      opts.Limit,
			"offset":     opts.Offset,
		})
	}
}

// DeleteDocument removes a document record and, best-effort, its file.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := h.deleter.Delete(r.Context(), model.KindDocument, id, p.Scope()); err != nil {
		respond.Error(w, h.logger, err, "failed to delete document")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// ReviewMatches returns the current match proposals for a completed form.
// Proposals are recomputed against the live catalog on every call.
func (h *Handler) ReviewMatches(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	form, err := h.store.Get(r.Context(), model.KindForm, r.PathValue("id"), p.Scope())
	if err != nil {
		respond.Error(w, h.logger, err, "failed to fetch form")
		return
	}
	if form.Status != model.StatusCompleted {
		respond.Error(w, h.logger, apperrors.InvalidState("form %s is %s, not completed", form.ID, form.Status), "")
		return
	}
	matches, err := h.reviewer.Matches(r.Context(), form)
	if err != nil {
		respond.Error(w, h.logger, err, "failed to compute matches")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"formId":    form.ID,
		"finalized": form.Finalized,
		"matches":   matches,
	})
}

// ListVariables returns the catalog, optionally filtered by category.
func (h *Handler) ListVariables(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(w, r); !ok {
		return
	}
	vars, err := h.store.ListVariables(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		respond.Error(w, h.logger, err, "failed to list variables")
		return
	}
	if vars == nil {
		vars = []model.Variable{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"variables": vars, "count": len(vars)})
}

func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		respond.Message(w, http.StatusUnauthorized, "unauthorized")
	}
	return p, ok
}
