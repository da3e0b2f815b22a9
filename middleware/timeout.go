package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/handlers"
)

const defaultRequestTimeout = 30 * time.Second

// Timeout bounds request handling. The chain runs in its own goroutine
// against a deadlined context; if the deadline fires first the client gets a
// 504 envelope and whatever the handler writes afterwards is discarded.
func Timeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		d = defaultRequestTimeout
	}
	seconds := int(d.Seconds())

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		upstream := c.Writer
		buffered := newBufferedWriter(upstream)
		c.Writer = buffered

		done := make(chan struct{})
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			c.Next()
			close(done)
		}()

		select {
		case <-done:
			c.Writer = upstream
			buffered.flushTo(upstream)
		case p := <-panicked:
			c.Writer = upstream
			panic(p)
		case <-ctx.Done():
			buffered.discard(http.StatusGatewayTimeout)
			log.Error().
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Int("timeout_seconds", seconds).
				Msg("request timed out")
			writeTimeoutResponse(upstream, seconds)
		}
	}
}

func writeTimeoutResponse(w gin.ResponseWriter, seconds int) {
	body, _ := json.Marshal(handlers.NewErrorResponse(apperrors.NewTimeout(seconds)))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusGatewayTimeout)
	_, _ = w.Write(body)
}

// bufferedWriter holds the handler's output until the race against the
// deadline is decided. It keeps a private header map so a handler still
// running after the 504 went out cannot mutate the live response.
type bufferedWriter struct {
	gin.ResponseWriter

	mu        sync.Mutex
	header    http.Header
	body      bytes.Buffer
	status    int
	discarded bool
}

func newBufferedWriter(upstream gin.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{ResponseWriter: upstream, header: make(http.Header)}
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.discarded || w.status != 0 {
		return
	}
	w.status = code
}

func (w *bufferedWriter) WriteHeaderNow() {}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.discarded {
		return len(b), nil
	}
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.discarded {
		return len(s), nil
	}
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != 0 {
		return w.status
	}
	return http.StatusOK
}

func (w *bufferedWriter) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status != 0 || w.body.Len() > 0
}

func (w *bufferedWriter) flushTo(upstream gin.ResponseWriter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.discarded {
		return
	}
	dst := upstream.Header()
	for k, v := range w.header {
		dst[k] = v
	}
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	upstream.WriteHeader(status)
	if w.body.Len() > 0 {
		_, _ = upstream.Write(w.body.Bytes())
	}
}

// discard drops buffered output and pins the final status so upstream
// logging and metrics see what actually went out on the wire.
func (w *bufferedWriter) discard(status int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.discarded = true
	w.status = status
	w.body.Reset()
}
