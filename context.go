package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. Components fall back
// to it when a RequestMeta carries no IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// RequestMetaFromContext returns the client attributes stored by WithClientIP
// and WithUserAgent.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	return RequestMeta{
		IPAddress: clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

// resolveMeta fills empty fields of meta from ctx.
func resolveMeta(ctx context.Context, meta RequestMeta) RequestMeta {
	if meta.IPAddress == "" {
		meta.IPAddress = clientIPFromContext(ctx)
	}
	if meta.UserAgent == "" {
		meta.UserAgent = userAgentFromContext(ctx)
	}
	return meta
}
