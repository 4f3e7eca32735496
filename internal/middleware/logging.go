package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware logs the method, path and duration of each request.
func LogMiddleware(logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			method := r.Method

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   method,
				"path":     path,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogWebSocketConnect logs a client whose upgrade was accepted.
func LogWebSocketConnect(logger logrus.FieldLogger, remoteAddr, path, userID string) {
	logger.WithFields(logrus.Fields{
		"remote":  remoteAddr,
		"path":    path,
		"user_id": userID,
	}).Info("WebSocket connected")
}

func LogWebSocketDisconnect(logger logrus.FieldLogger, remoteAddr, path, userID string, err error) {
	fields := logrus.Fields{
		"remote":  remoteAddr,
		"path":    path,
		"user_id": userID,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
