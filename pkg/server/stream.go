package server

import (
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"chronicles/pkg/utils"
)

type deltaEvent struct {
	Text string `json:"text"`
}

// POST /api/continue-story/stream
//
// The event stream is opened with the first delta, so failures before any text
// arrives (bad input, unknown session, upstream errors) keep their JSON status.
func (s *Server) handlePostContinueStoryStream(c echo.Context) error {
	var req continueReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}

	var w *utils.SSEWriter
	open := func() error {
		if w != nil {
			return nil
		}
		var err error
		w, err = utils.NewSSEWriter(c)
		return err
	}

	r, err := s.Story.ContinueStream(c.Request().Context(), req.UserID, req.UserMessage, func(delta string) error {
		if err := open(); err != nil {
			return err
		}
		return w.Event("delta", deltaEvent{Text: delta})
	})
	if err != nil {
		he := storyError(err, "Error continuing story")
		if w == nil {
			return he
		}
		log.Error("story stream failed", "userId", req.UserID, "error", err)
		_ = w.Event("error", utils.ErrJSON(fmt.Sprint(he.Message)))
		w.Close()
		return nil
	}

	if err := open(); err != nil {
		return storyError(err, "Error continuing story")
	}
	defer w.Close()
	return w.Event("done", newContinueResp(r))
}
