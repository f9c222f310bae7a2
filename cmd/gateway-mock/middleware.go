package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	body   *bytes.Buffer
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var requestBody bytes.Buffer
		body, err := io.ReadAll(io.TeeReader(r.Body, &requestBody))
		if err != nil {
			logger.Error("Error reading request body", "error", err)
		}
		r.Body = io.NopCloser(&requestBody)

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK, body: &bytes.Buffer{}}
		next.ServeHTTP(lrw, r)

		logger.Info("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"requestBody", string(body),
			"status", lrw.status,
			"responseBody", lrw.body.String())
	})
}

type counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func countMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	c := &counter{counts: make(map[string]int)}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.counts[r.URL.Path]++
		count := c.counts[r.URL.Path]
		c.mu.Unlock()

		logger.Debug("Endpoint called", "path", r.URL.Path, "count", count)
		next.ServeHTTP(w, r)
	})
}
