package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"chronicles/pkg/inference"
	"chronicles/pkg/story"
	"chronicles/pkg/utils"
)

const (
	msgSessionNotFound = "Session not found. Start a new story."
	msgRateLimited     = "The AI provider is rate limiting requests. Try again shortly."
	msgInvalidJSON     = "invalid json"
)

// handleError renders every error as {success:false, error}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
		if he.Internal != nil && code >= http.StatusInternalServerError {
			log.Error("request failed", "uri", c.Request().RequestURI, "status", code, "error", he.Internal)
		}
	} else {
		log.Error("unhandled error", "uri", c.Request().RequestURI, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, utils.ErrJSON(msg))
	}
	if err != nil {
		log.Error("failed writing error response", "error", err)
	}
}

// storyError maps service errors to HTTP errors. fallback is the message shown
// for completion failures.
func storyError(err error, fallback string) *echo.HTTPError {
	var input *story.InputError
	switch {
	case errors.As(err, &input):
		return echo.NewHTTPError(http.StatusBadRequest, input.Reason).SetInternal(err)
	case errors.Is(err, story.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, msgSessionNotFound).SetInternal(err)
	case inference.IsRateLimited(err):
		return echo.NewHTTPError(http.StatusTooManyRequests, msgRateLimited).SetInternal(err)
	case errors.Is(err, context.Canceled):
		// client went away, nobody reads this
		return echo.NewHTTPError(499, "request cancelled").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, fallback).SetInternal(err)
	}
}
