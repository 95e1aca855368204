package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/shortlinks/internal/core"
)

// maxJSONBodySize caps single-link request bodies (1MB). Batch delete of
// MaxBatchDeleteCodes codes fits well inside it.
const maxJSONBodySize = 1 << 20

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// decodeJSON decodes a size-capped JSON request body into v. Malformed
// bodies come back as a *core.ValidationError so they map to 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return &core.ValidationError{Field: "body", Message: "request body is empty"}
		}
		return &core.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}
