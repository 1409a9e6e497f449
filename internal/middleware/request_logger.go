package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/soaringjerry/Malasakit/internal/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// RequestLogger logs one line per request. Server errors log at error level,
// client errors at warn, everything else at debug.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = logging.OrNop(log).Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			level := zapcore.DebugLevel
			switch {
			case rec.status >= 500:
				level = zapcore.ErrorLevel
			case rec.status >= 400:
				level = zapcore.WarnLevel
			}
			if ce := log.Check(level, "request"); ce != nil {
				ce.Write(
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", rec.status),
					zap.Int("bytes", rec.bytes),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("remote", clientIP(r)),
				)
			}
		})
	}
}
