package core

import "context"

type contextKey string

const ctxKeyRequestMeta contextKey = "request_meta"

// RequestMeta describes the client behind a call, for audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// WithRequestMeta attaches client details to ctx.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, ctxKeyRequestMeta, meta)
}

// RequestMetaFromContext returns the client details attached to ctx, or the
// zero value.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if v, ok := ctx.Value(ctxKeyRequestMeta).(RequestMeta); ok {
		return v
	}
	return RequestMeta{}
}
