package middleware

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cdw/internal/platform/db"
)

// stackSize bounds the goroutine stack attached to a panicking request.
const stackSize = 4 << 10

// Logger writes one line per request. Server errors log at error level,
// client errors at warn. A panicking handler is answered with 500 and its
// value and stack are added to the same line.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get(RequestIDKey).(string)

			panicked, stack, err := serve(next, c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			evt := logger.Info()
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn().Err(err)
			}
			if panicked != nil {
				evt = evt.Str("panic", fmt.Sprint(panicked)).Bytes("stack", stack)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("schema", db.SchemaFromContext(req.Context())).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

// serve runs next, turning a panic into a 500 error.
func serve(next echo.HandlerFunc, c echo.Context) (panicked interface{}, stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if r == http.ErrAbortHandler {
				panic(r)
			}
			buf := make([]byte, stackSize)
			panicked, stack = r, buf[:runtime.Stack(buf, false)]
			err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
	}()
	return nil, nil, next(c)
}
