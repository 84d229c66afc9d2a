package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// recoverMiddleware turns a handler panic into a 500.
func recoverMiddleware(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("panic", fmt.Sprint(r)).
						Bytes("stack", debug.Stack()).
						Str("path", c.Path()).
						Msg("handler panic")
					err = dataResponse(c, http.StatusInternalServerError, "Internal Server Error")
				}
			}()
			return next(c)
		}
	}
}

// requestLogging logs one line per request.
func requestLogging(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			ev := log.Debug()
			if c.Response().Status >= http.StatusInternalServerError {
				ev = log.Warn()
			}
			ev.Str("method", req.Method).
				Str("uri", req.RequestURI).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("http request")
			return nil
		}
	}
}
