package httpx

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// audit records one structured log line and the request metrics for every
// call, including rejected ones.
func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, ctx: req.Context()}
		began := time.Now()
		next(rec, req)
		elapsed := time.Since(began)

		route := routePattern(req)
		status := rec.statusCode()
		r.recordRequestMetrics(req.Method, route, status, elapsed)

		attrs := []slog.Attr{
			slog.String("method", req.Method),
			slog.String("route", route),
			slog.String("path", req.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", rec.written),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("ip", clientIP(req)),
		}
		if id := strings.TrimSpace(req.Header.Get("X-Request-ID")); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if caller, ok := authInfoFromContext(rec.ctx); ok {
			attrs = append(attrs, slog.String("user_id", caller.UserID))
			if caller.TeamID != "" {
				attrs = append(attrs, slog.String("team_id", caller.TeamID))
			}
		}
		r.logger.LogAttrs(rec.ctx, levelForStatus(status), "request served", attrs...)
	}
}

func levelForStatus(status int) slog.Level {
	if status >= http.StatusInternalServerError {
		return slog.LevelError
	}
	if status >= http.StatusBadRequest {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func routePattern(req *http.Request) string {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return "unmatched"
	}
	return rctx.RoutePattern()
}

// responseRecorder captures what the handler wrote. It passes through
// Flush for event streams and Hijack for websocket upgrades.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int
	ctx     context.Context
}

func (rec *responseRecorder) statusCode() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

func (rec *responseRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}

// SetContext is called by requireAuth so the log line carries the caller.
func (rec *responseRecorder) SetContext(ctx context.Context) {
	rec.ctx = ctx
}

func (rec *responseRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rec *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T cannot be hijacked", rec.ResponseWriter)
	}
	return hijacker.Hijack()
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(req *http.Request) string {
	first, _, _ := strings.Cut(req.Header.Get("X-Forwarded-For"), ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	addr := strings.TrimSpace(req.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(limit-decision.count, 0)))
	if !decision.windowEnd.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}
