package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/shortlinks/internal/core"
)

// createLinkRequest is the body of POST /api/links.
type createLinkRequest struct {
	Target    string `json:"target"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
}

// createLinkResponse is returned with 201 Created.
type createLinkResponse struct {
	Code     string `json:"code"`
	ShortURL string `json:"shortUrl"`
	Target   string `json:"target"`
}

// handleCreateLink issues a new short code for a target URL.
func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	shortURL, err := s.service.CreateShortLink(r.Context(), req.Target, req.OwnerID, req.OwnerName)
	if err != nil {
		respondError(w, r, err)
		return
	}

	code := strings.TrimPrefix(shortURL, s.service.BaseURL()+"/")
	w.Header().Set("Location", "/api/links/"+code)
	writeJSON(w, http.StatusCreated, createLinkResponse{
		Code:     code,
		ShortURL: shortURL,
		Target:   strings.TrimSpace(req.Target),
	})
}

// handleGetLink returns the stored record for a code.
func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.service.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if link == nil {
		respondError(w, r, core.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, link)
}

// handleRedirect sends the client to the target of a code.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	link, err := s.service.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if link == nil {
		respondError(w, r, core.ErrNotFound)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=90")
	http.Redirect(w, r, link.Target, http.StatusFound)
}

// handleListOwnerLinks returns one page of an owner's links, newest first.
func (s *Server) handleListOwnerLinks(w http.ResponseWriter, r *http.Request) {
	page := parseIntParam(r, "page", 1)
	limit := parseIntParam(r, "limit", 20)

	result, err := s.service.ListByOwner(r.Context(), chi.URLParam(r, "ownerID"), page, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
