package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/shortlinks/internal/core"
)

// handleDeleteLink deletes a single code. The optional ownerId query
// parameter restricts the delete to that owner's link.
func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	deleted, err := s.service.DeleteShortLink(r.Context(), code, r.URL.Query().Get("ownerId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !deleted {
		respondError(w, r, core.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":    code,
		"deleted": true,
	})
}

// batchDeleteRequest is the body of POST /api/links/batch-delete.
type batchDeleteRequest struct {
	Codes   []string `json:"codes"`
	OwnerID string   `json:"ownerId"`
}

// handleBatchDelete deletes up to core.MaxBatchDeleteCodes codes.
func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if len(req.Codes) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"requested": 0,
			"deleted":   0,
		})
		return
	}

	count, err := s.service.BatchDelete(r.Context(), req.Codes, req.OwnerID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requested": len(req.Codes),
		"deleted":   count,
	})
}
