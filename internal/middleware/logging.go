package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request. Streams are logged when they
// close, so their latency is the connection lifetime.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req, res := c.Request(), c.Response()
			fields := log.Fields{
				"component": "http",
				"method":    req.Method,
				"uri":       req.RequestURI,
				"status":    res.Status,
				"latency":   time.Since(start).String(),
				"remote":    c.RealIP(),
			}
			if uid := c.Get(KeyUserID); uid != nil {
				fields["user_id"] = uid
			}
			entry := log.WithFields(fields)
			switch {
			case res.Status >= 500:
				entry.Error("request")
			case res.Status >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
			return nil
		}
	}
}
