package jobserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"

	"github.com/anatolykoptev/go-mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
	"github.com/anatolykoptev/go_transcribe/internal/toolutil"
)

var errRateLimited = errors.New("rate limit exceeded")

// newLimiter builds the submission token bucket. rps <= 0 disables limiting.
func newLimiter(rps float64, burst int) *rate.Limiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// recoverer answers panics with the JSON error body the REST routes use.
func recoverer(logger *slog.Logger) mcpserver.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Error("handler panic",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", p),
					slog.String("request_id", mcpserver.RequestIDFromContext(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)
				toolutil.WriteError(w, http.StatusInternalServerError, "Internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit rejects requests beyond the token bucket with 429.
func rateLimit(l *rate.Limiter) mcpserver.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				engine.IncrRateLimited()
				w.Header().Set("Retry-After", "1")
				toolutil.WriteError(w, http.StatusTooManyRequests, errRateLimited.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitTools charges calls to the named tools against the same bucket as the
// REST submission routes.
func limitTools(l *rate.Limiter, tools ...string) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method == "tools/call" {
				params, ok := req.GetParams().(*mcp.CallToolParamsRaw)
				if ok && slices.Contains(tools, params.Name) && !l.Allow() {
					engine.IncrRateLimited()
					return nil, errRateLimited
				}
			}
			return next(ctx, method, req)
		}
	}
}
