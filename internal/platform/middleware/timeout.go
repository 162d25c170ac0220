package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on each request context so store calls give
// up once it passes. A handler error caused by the deadline becomes a 504.
// A non-positive timeout disables the middleware.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				var he *echo.HTTPError
				if !errors.As(err, &he) || he.Code >= http.StatusInternalServerError {
					return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out").SetInternal(err)
				}
			}
			return err
		}
	}
}
