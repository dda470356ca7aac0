package obs

import (
	"context"
	"sync"

	"github.com/go-chi/chi/v5"
)

// RequestInfo is filled in while a request travels down the router so the
// outer logging, metrics and tracing middleware can report what was resolved
// further in: the matched route and the merchant being served.
type RequestInfo struct {
	mu           sync.Mutex
	route        string
	merchantID   string
	merchantSlug string
}

type requestInfoKey struct{}

// WithRequestInfo attaches a RequestInfo unless ctx already carries one.
func WithRequestInfo(ctx context.Context) (context.Context, *RequestInfo) {
	if ctx == nil {
		ctx = context.Background()
	}
	if info := RequestInfoFrom(ctx); info != nil {
		return ctx, info
	}
	info := &RequestInfo{}
	return context.WithValue(ctx, requestInfoKey{}, info), info
}

// RequestInfoFrom returns the request's info holder, or nil.
func RequestInfoFrom(ctx context.Context) *RequestInfo {
	if ctx == nil {
		return nil
	}
	info, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info
}

// TagMerchant records the merchant serving the request. No-op without a holder.
func TagMerchant(ctx context.Context, id, slug string) {
	info := RequestInfoFrom(ctx)
	if info == nil {
		return
	}
	info.mu.Lock()
	info.merchantID, info.merchantSlug = id, slug
	info.mu.Unlock()
}

// Merchant returns the merchant tagged on the request, if any.
func (i *RequestInfo) Merchant() (id, slug string) {
	if i == nil {
		return "", ""
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.merchantID, i.merchantSlug
}

// WithRoutePattern pins the route reported for the request, for handlers that
// are not served through chi.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	ctx, info := WithRequestInfo(ctx)
	info.mu.Lock()
	info.route = pattern
	info.mu.Unlock()
	return ctx
}

// RoutePattern returns the pinned route, or whatever chi has matched so far.
// Called after next has run, it yields the full pattern such as
// "/api/v1/{merchant}/orders".
func RoutePattern(ctx context.Context) string {
	if info := RequestInfoFrom(ctx); info != nil {
		info.mu.Lock()
		route := info.route
		info.mu.Unlock()
		if route != "" {
			return route
		}
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
