package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/shortlinks/internal/core"
	"github.com/JonMunkholm/shortlinks/internal/logging"
)

// handleExport returns every link as a report.
//
// By default the response is the JSON ExportPayload. With ?download=1 the
// report is sent as a text attachment; encrypted exports are wrapped in the
// header envelope so the file can be fed back to /api/import unchanged.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ExportAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	if !isTruthy(r.URL.Query().Get("download")) {
		writeJSON(w, http.StatusOK, payload)
		return
	}

	filename := fmt.Sprintf("shortlinks-export-%s.txt", payload.GeneratedAt.UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Export-Count", fmt.Sprint(payload.Count))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(core.RenderEnvelope(payload))); err != nil {
		logging.FromContext(r.Context()).Warn("export write failed", "export_id", payload.ExportID, "error", err)
	}
}

// handleImport imports links from the request body.
//
// The body is the import content itself (JSON, report, labeled text, CSV or
// an encrypted envelope). A JSON object whose only field is "content" is
// unwrapped first, for clients that cannot send raw text.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	raw, err := core.ReadPayload(r.Body, s.opts.MaxImportBytes)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.ImportAll(r.Context(), unwrapContent(raw))
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "import_id", result.ImportID).Info("import finished",
		"format", result.Format,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"errors", result.Errors,
	)
	writeJSON(w, http.StatusOK, result)
}

// handleImportStatus reports how many import slots are in use.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ImportLimiterStatus())
}

// unwrapContent returns the "content" string of a {"content": "..."}
// wrapper, or raw unchanged. Objects with any other field are import
// content in their own right (an encrypted export carries "content" next
// to "iv").
func unwrapContent(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil || len(fields) != 1 {
		return raw
	}
	var content string
	if err := json.Unmarshal(fields["content"], &content); err != nil {
		return raw
	}
	return content
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
