package httpmiddleware

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// sensitiveParams are query parameters that carry credentials.
var sensitiveParams = []string{"access_token"}

// AccessLog is gin's request logger with credentials masked out of the
// logged query string.
func AccessLog(skipPaths ...string) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: skipPaths,
		Formatter: func(p gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
				p.TimeStamp.Format("2006/01/02 - 15:04:05"),
				p.StatusCode,
				p.Latency,
				p.ClientIP,
				p.Method,
				RedactQuery(p.Path),
				p.ErrorMessage,
			)
		},
	})
}

// RedactQuery replaces the values of credential parameters in a logged path.
func RedactQuery(path string) string {
	base, raw, ok := strings.Cut(path, "?")
	if !ok {
		return path
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return base + "?[unparsable query]"
	}
	changed := false
	for _, name := range sensitiveParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return path
	}
	return base + "?" + q.Encode()
}
