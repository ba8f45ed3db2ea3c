package middleware

import (
	stdErrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/pkg/errors"
	"github.com/charlesng35/ticketdesk/pkg/logger"
	"github.com/charlesng35/ticketdesk/pkg/metrics"
	"github.com/charlesng35/ticketdesk/pkg/response"
)

// Recovery converts handler panics into the standard 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can drop the connection, and nothing is written once a response
// (or a websocket upgrade) has started.
func Recovery() gin.HandlerFunc {
	log := logger.WithModule("http")
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && stdErrors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			path := c.FullPath()
			if path == "" {
				path = "unmatched"
			}
			metrics.PanicsRecovered.WithLabelValues(path).Inc()
			log.Error("panic",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("user_id", c.GetString(CtxUserIDKey)),
				zap.Any("error", r),
				zap.Stack("stack"),
			)

			if !c.Writer.Written() {
				response.Error(c, errors.ErrInternalServer)
			}
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 envelope for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithMessage(fmt.Sprintf("route %s %s not found", c.Request.Method, c.Request.URL.Path)))
}

// MethodNotAllowedHandler returns a JSON 405 envelope.
func MethodNotAllowedHandler(c *gin.Context) {
	response.Error(c, errors.New("METHOD_NOT_ALLOWED", "method not allowed", http.StatusMethodNotAllowed))
}
