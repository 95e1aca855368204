package web

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/shortlinks/internal/core"
	mw "github.com/JonMunkholm/shortlinks/internal/web/middleware"
)

// requestMeta attaches client IP, User-Agent and request ID to the request
// context for audit entries. RemoteAddr has already been resolved by
// TrustedRealIP.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := core.RequestMeta{
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
			RequestID: middleware.GetReqID(r.Context()),
		}
		if ip, ok := mw.ParseAddr(r.RemoteAddr); ok {
			meta.IPAddress = ip.String()
		}
		next.ServeHTTP(w, r.WithContext(core.WithRequestMeta(r.Context(), meta)))
	})
}
