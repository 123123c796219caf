package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"gpurelay/pkg/logger"
	"gpurelay/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
)

const maxLoggedBody = 1000

// Logger access log; POST bodies are compacted and truncated
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var bodyStr string
		if c.Request.Method == http.MethodPost {
			bodyStr = getRequestBody(c)
		}

		c.Next()

		// Result polling produces a 404 per attempt, too noisy to log
		if c.Writer.Status() == http.StatusNotFound {
			return
		}
		switch c.Request.URL.Path {
		case "/health", "/metrics":
			return
		}

		logMsg := fmt.Sprintf("[GIN] %3d | %13v | %15s | %s | %s",
			c.Writer.Status(),
			time.Since(startTime),
			c.ClientIP(),
			c.Request.Method,
			c.Request.RequestURI,
		)
		if bodyStr != "" {
			logMsg += fmt.Sprintf(" | body: %s", bodyStr)
		}
		logger.InfoCtx(c.Request.Context(), "%s", logMsg)
	}
}

// Metrics records request counts and latency per route
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(path, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// getRequestBody reads the body and puts it back for the handler
func getRequestBody(c *gin.Context) string {
	var bodyBytes []byte
	if c.Request.Body != nil {
		bodyBytes, _ = io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}
	return CompressBody(string(bodyBytes))
}

// CompressBody compresses JSON using pretty package
func CompressBody(body string) string {
	if len(body) == 0 {
		return ""
	}

	compressed := pretty.Ugly([]byte(body))
	if len(compressed) > maxLoggedBody {
		return string(compressed[:maxLoggedBody]) + "..."
	}
	return string(compressed)
}
