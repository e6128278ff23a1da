package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/stephnangue/profilebridge/auth"
	"github.com/stephnangue/profilebridge/helper"
	"github.com/stephnangue/profilebridge/logger"
)

const (
	HeaderRequestID   = "X-Request-ID"
	extensionScheme   = "moz-extension://"
	allowedMethods    = "GET, POST, OPTIONS"
	allowedHeaders    = "Content-Type, Authorization, X-API-Token, X-Request-ID"
	corsMaxAgeSeconds = "600"
)

// requestID tags each request with a ULID, echoed in X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := helper.GenerateRequestID()
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logRequests logs method, path, status and duration. Headers are never
// logged since they carry the API token.
func logRequests(log *logger.GatedLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logger.TypedField{
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", status),
				logger.Duration("duration", time.Since(start)),
				logger.String("request_id", chimw.GetReqID(r.Context())),
			}
			switch {
			case status >= 500:
				log.Error("request failed", fields...)
			case status >= 400:
				log.Warn("request rejected", fields...)
			default:
				log.Debug("request served", fields...)
			}
		})
	}
}

// measure counts requests and times them per route pattern.
func measure(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			labels := []metrics.Label{
				{Name: "route", Value: route},
				{Name: "method", Value: r.Method},
				{Name: "status", Value: http.StatusText(status)},
			}
			m.IncrCounterWithLabels([]string{"http", "requests"}, 1, labels)
			m.MeasureSinceWithLabels([]string{"http", "request_duration"}, start, labels[:2])
		})
	}
}

// cors answers preflights and sets CORS headers for allowed origins, which
// may contain globs.
func cors(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			ok := origin != "" && strutil.StrListContainsGlob(allowed, origin)
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Set("Access-Control-Expose-Headers", HeaderRequestID)
				h.Set("Access-Control-Max-Age", corsMaxAgeSeconds)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if !ok {
					respondError(w, http.StatusForbidden, CodeForbiddenOrigin, "origin not allowed")
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkExtensionOrigin rejects browser extensions that are not listed.
// An empty list allows every extension. It runs after authenticate so that
// every request to a protected route counts against the rate limit.
func checkExtensionOrigin(ids []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(ids) == 0 || !strings.HasPrefix(origin, extensionScheme) {
				next.ServeHTTP(w, r)
				return
			}
			ua := r.Header.Get("User-Agent")
			for _, id := range ids {
				if id != "" && (strings.Contains(origin, id) || strings.Contains(ua, id)) {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, http.StatusForbidden, CodeForbiddenOrigin, "extension not allowed")
		})
	}
}

// authenticate runs the rate limiter and the token check.
func authenticate(a Authenticator, log *logger.GatedLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.Authenticate(auth.TokenFromRequest(r)); err != nil {
				log.Debug("request not authenticated",
					logger.String("path", r.URL.Path),
					logger.String("request_id", chimw.GetReqID(r.Context())),
				)
				respondErr(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
