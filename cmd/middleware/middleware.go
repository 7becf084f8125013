package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"herfrequency/internal/dto"
)

func LoggingMiddleware(log *zerolog.Logger) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		start := time.Now()
		c.Next()

		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// OriginGuard rejects browser requests whose Origin is not on the allow-list.
// Requests without an Origin header (server-to-server, curl) pass through.
func OriginGuard(allowed []string, log *zerolog.Logger) ginext.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")] = struct{}{}
	}
	return func(c *ginext.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if _, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]; ok {
			c.Next()
			return
		}
		log.Warn().Str("origin", origin).Str("path", c.Request.URL.Path).Msg("origin not allowed")
		dto.ErrorResponse(c, http.StatusForbidden, dto.OriginNotAllowed, "Origin not allowed", "")
		c.Abort()
	}
}
