package obs

import "context"

type routePatternKey struct{}

// WithRoutePattern stores the matched chi route pattern so the metrics
// middleware can label by "/api/v1/payments/{sessionID}" rather than the raw
// path, keeping session ids out of label cardinality.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext extracts the stored route pattern, if any.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(routePatternKey{}).(string); ok {
		return v
	}
	return ""
}
