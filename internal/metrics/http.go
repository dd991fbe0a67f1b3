package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// unmatchedRoute labels every path the API does not serve.
const unmatchedRoute = "unmatched"

// apiRoutes are the route templates recorded as-is. Post IDs collapse to
// {id} before lookup.
var apiRoutes = map[string]struct{}{
	"/health":                     {},
	"/webhooks/stripe":            {},
	"/api/plans":                  {},
	"/api/entitlement":            {},
	"/api/usage":                  {},
	"/api/subscription":           {},
	"/api/subscription/stream":    {},
	"/api/calendar":               {},
	"/api/billing":                {},
	"/api/billing/checkout":       {},
	"/api/billing/portal":         {},
	"/api/billing/cancel":         {},
	"/api/billing/reactivate":     {},
	"/api/posts":                  {},
	"/api/posts/stream":           {},
	"/api/posts/{id}":             {},
	"/api/posts/{id}/schedule":    {},
	"/api/posts/{id}/unschedule":  {},
	"/api/posts/{id}/publish":     {},
	"/api/posts/{id}/revert":      {},
	"/api/posts/{id}/rate":        {},
	"/api/posts/{id}/draft":       {},
	"/api/posts/{id}/draft/flush": {},
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// routeLabel maps a request path onto the route template it addresses.
// Paths outside the API collapse to a single label so scanners cannot grow
// the series count.
func routeLabel(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) >= 3 && segs[0] == "api" && segs[1] == "posts" && segs[2] != "stream" {
		segs[2] = "{id}"
	}
	route := "/" + strings.Join(segs, "/")
	if _, ok := apiRoutes[route]; ok {
		return route
	}
	return unmatchedRoute
}

func isStreamRoute(route string) bool {
	return strings.HasSuffix(route, "/stream")
}

// Middleware records HTTP request metrics. Event streams count as requests
// but their lifetime goes to StreamSessionDuration rather than the latency
// histogram.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		stream := isStreamRoute(route)
		if !stream {
			HTTPRequestsInFlight.Inc()
			defer HTTPRequestsInFlight.Dec()
		}

		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		if stream {
			StreamSessionDuration.WithLabelValues(route).Observe(duration)
			return
		}
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
	})
}
