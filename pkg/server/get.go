package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chronicles/pkg/modes"
	"chronicles/pkg/schema"
)

func (s *Server) handleGetRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": "Chronicles Story API",
		"status":  "ok",
	})
}

func (s *Server) handleGetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "OK",
		"message": "Chronicles Backend Running",
	})
}

type modesResp struct {
	Success bool            `json:"success"`
	Modes   []modes.Summary `json:"modes"`
}

// GET /api/modes
func (s *Server) handleGetModes(c echo.Context) error {
	return c.JSON(http.StatusOK, modesResp{Success: true, Modes: s.Story.Modes()})
}

type sessionResp struct {
	Success bool          `json:"success"`
	History []schema.Turn `json:"history"`
	Mode    string        `json:"mode"`
	ModeID  string        `json:"modeId"`
	Context string        `json:"context"`
}

// GET /api/session/:userId
func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.Story.Session(c.Param("userId"))
	if err != nil {
		return storyError(err, "Error fetching session")
	}
	return c.JSON(http.StatusOK, sessionResp{
		Success: true,
		History: sess.History(),
		Mode:    sess.Mode.Name,
		ModeID:  sess.Mode.ID,
		Context: sess.Context,
	})
}

type charactersResp struct {
	Success    bool               `json:"success"`
	Characters []schema.Character `json:"characters"`
}

// GET /api/session/:userId/characters
func (s *Server) handleGetCharacters(c echo.Context) error {
	chars, err := s.Story.Characters(c.Param("userId"))
	if err != nil {
		return storyError(err, "Error fetching characters")
	}
	return c.JSON(http.StatusOK, charactersResp{Success: true, Characters: chars})
}
