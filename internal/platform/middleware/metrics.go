package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/occuhealth/occuhealth/internal/platform/metrics"
)

// Metrics records request counts and latency labelled by route template, so
// record ids never end up as label values.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordHTTPRequest(c.Request().Method, route, strconv.Itoa(status), time.Since(start).Seconds())
			return err
		}
	}
}
