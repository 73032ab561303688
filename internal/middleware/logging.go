package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/irensaltali/serverlessapigateway/internal/logging"
	"go.uber.org/zap"
)

var loggingRWPool = sync.Pool{
	New: func() any { return &ResponseRecorder{} },
}

// LoggingConfig configures the access logging middleware
type LoggingConfig struct {
	// Logger receives one entry per request. Defaults to the global logger.
	Logger *zap.Logger
	// SkipPaths are paths that should not be logged
	SkipPaths []string
}

// Logging creates an access logging middleware with default config
func Logging() Middleware {
	return LoggingWithConfig(LoggingConfig{})
}

// LoggingWithConfig creates an access logging middleware with custom config
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	skipPaths := make(map[string]bool)
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			lrw := loggingRWPool.Get().(*ResponseRecorder)
			lrw.Reset(w)

			next.ServeHTTP(lrw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", lrw.Status()),
				zap.Int64("body_bytes", lrw.BytesWritten()),
				zap.Duration("response_time", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if info := RequestInfoFromContext(r.Context()); info != nil {
				fields = append(fields, zap.String("request_id", info.RequestID))
				if info.Route != "" {
					fields = append(fields, zap.String("route", info.Route))
				}
			}
			if r.URL.RawQuery != "" {
				fields = append(fields, zap.String("query", r.URL.RawQuery))
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, zap.String("user_agent", ua))
			}

			logger := cfg.Logger
			if logger == nil {
				logger = logging.Global()
			}
			logger.Info("HTTP request", fields...)

			lrw.Reset(nil)
			loggingRWPool.Put(lrw)
		})
	}
}

// ResponseRecorder wraps http.ResponseWriter to capture status and bytes
type ResponseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// NewResponseRecorder wraps w.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	rec := &ResponseRecorder{}
	rec.Reset(w)
	return rec
}

// Reset points the recorder at w and clears the counters.
func (lrw *ResponseRecorder) Reset(w http.ResponseWriter) {
	lrw.ResponseWriter = w
	lrw.status = http.StatusOK
	lrw.bytes = 0
}

func (lrw *ResponseRecorder) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *ResponseRecorder) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (lrw *ResponseRecorder) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (lrw *ResponseRecorder) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Status returns the recorded status code
func (lrw *ResponseRecorder) Status() int {
	return lrw.status
}

// BytesWritten returns the number of bytes written
func (lrw *ResponseRecorder) BytesWritten() int64 {
	return lrw.bytes
}
