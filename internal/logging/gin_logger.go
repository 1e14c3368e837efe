// Package logging wires the Gin HTTP layer into logrus: request logging with
// credential masking, request ID propagation, panic recovery, and the global
// logger setup shared by the whole server.
package logging

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/blush-labs/socialauth/internal/util"
)

// oauthAPIPrefixes defines path prefixes for OAuth flow requests that should
// have request ID tracking.
var oauthAPIPrefixes = []string{
	"/v1/oauth/",
}

var requestLogEnabled atomic.Bool

// SetRequestLogging toggles verbose per-request header logging. Header values
// are masked before they reach the log.
func SetRequestLogging(enabled bool) {
	requestLogEnabled.Store(enabled)
}

// GinLogrusLogger returns a Gin middleware handler that logs HTTP requests and
// responses using logrus. It captures method, path, status code, latency, and
// client IP. Query strings are masked so authorization codes and tokens never
// land in a log file. Request IDs are attached for OAuth flow endpoints.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := util.MaskSensitiveQuery(c.Request.URL.RawQuery)

		var requestID string
		if isOAuthAPIPath(path) {
			requestID = GenerateRequestID()
			SetGinRequestID(c, requestID)
			ctx := WithRequestID(c.Request.Context(), requestID)
			c.Request = c.Request.WithContext(ctx)
		}

		if requestLogEnabled.Load() {
			logRequestHeaders(c, requestID)
		}

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		} else {
			latency = latency.Truncate(time.Millisecond)
		}

		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if requestID == "" {
			requestID = "--------"
		}
		logLine := fmt.Sprintf("%3d | %13v | %15s | %-7s \"%s\"", statusCode, latency, clientIP, method, path)
		if errorMessage != "" {
			logLine = logLine + " | " + errorMessage
		}

		entry := log.WithField("request_id", requestID)

		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(logLine)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}
	}
}

// logRequestHeaders emits the inbound request headers at debug level with
// credentials masked.
func logRequestHeaders(c *gin.Context, requestID string) {
	if requestID == "" {
		requestID = "--------"
	}
	var parts []string
	for key, values := range c.Request.Header {
		for _, value := range values {
			parts = append(parts, key+": "+maskHeaderValue(key, value))
		}
	}
	log.WithField("request_id", requestID).Debugf("request headers: %s", strings.Join(parts, "; "))
}

func maskHeaderValue(key, value string) string {
	lowerKey := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.Contains(lowerKey, "authorization"):
		return util.MaskAuthorizationHeader(value)
	case strings.Contains(lowerKey, "token"), strings.Contains(lowerKey, "secret"), strings.Contains(lowerKey, "cookie"):
		return util.HideSecret(value)
	default:
		return value
	}
}

// isOAuthAPIPath checks whether the path is an OAuth flow endpoint that
// should have request ID tracking.
func isOAuthAPIPath(path string) bool {
	for _, prefix := range oauthAPIPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GinLogrusRecovery returns a Gin middleware handler that recovers from panics
// and logs them using logrus, returning a 500 to the client.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			// Let net/http handle ErrAbortHandler so the connection is aborted without noisy stack logs.
			panic(http.ErrAbortHandler)
		}

		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
