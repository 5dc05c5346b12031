package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chronicles/pkg/schema"
	"chronicles/pkg/story"
)

type startReq struct {
	UserID  string `json:"userId"`
	Context string `json:"context"`
	Mode    string `json:"mode"`
}

type startResp struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	History []schema.Turn `json:"history"`
	Mode    string        `json:"mode"`
	ModeID  string        `json:"modeId"`
}

// POST /api/start-story
func (s *Server) handlePostStartStory(c echo.Context) error {
	var req startReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}

	r, err := s.Story.Start(c.Request().Context(), req.UserID, req.Context, req.Mode)
	if err != nil {
		return storyError(err, "Error starting story")
	}
	return c.JSON(http.StatusOK, startResp{
		Success: true,
		Message: r.Message,
		History: r.Session.History(),
		Mode:    r.Session.Mode.Name,
		ModeID:  r.Session.Mode.ID,
	})
}

type continueReq struct {
	UserID      string `json:"userId"`
	UserMessage string `json:"userMessage"`
}

type continueResp struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	History []schema.Turn `json:"history"`
}

func newContinueResp(r *story.Reply) continueResp {
	return continueResp{Success: true, Message: r.Message, History: r.Session.History()}
}

// POST /api/continue-story
func (s *Server) handlePostContinueStory(c echo.Context) error {
	var req continueReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}

	r, err := s.Story.Continue(c.Request().Context(), req.UserID, req.UserMessage)
	if err != nil {
		return storyError(err, "Error continuing story")
	}
	return c.JSON(http.StatusOK, newContinueResp(r))
}

type generateReq struct {
	Prompt string `json:"prompt"`
}

type generateResp struct {
	Success bool   `json:"success"`
	Story   string `json:"story"`
}

// POST /api/generate
func (s *Server) handlePostGenerate(c echo.Context) error {
	var req generateReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}

	out, err := s.Story.Generate(c.Request().Context(), req.Prompt)
	if err != nil {
		return storyError(err, "Error generating story")
	}
	return c.JSON(http.StatusOK, generateResp{Success: true, Story: out})
}

// DELETE /api/session/:userId
func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.Story.Reset(c.Param("userId")); err != nil {
		return storyError(err, "Error resetting session")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type suggestionsResp struct {
	Success bool     `json:"success"`
	Actions []string `json:"actions"`
}

// POST /api/session/:userId/suggestions
func (s *Server) handlePostSuggestions(c echo.Context) error {
	actions, err := s.Story.Suggest(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return storyError(err, "Error suggesting actions")
	}
	return c.JSON(http.StatusOK, suggestionsResp{Success: true, Actions: actions})
}

// POST /api/session/:userId/characters
func (s *Server) handlePostCharacters(c echo.Context) error {
	chars, err := s.Story.ExtractCharacters(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return storyError(err, "Error extracting characters")
	}
	return c.JSON(http.StatusOK, charactersResp{Success: true, Characters: chars})
}

type putCharactersReq struct {
	Characters []schema.Character `json:"characters"`
}

// PUT /api/session/:userId/characters
func (s *Server) handlePutCharacters(c echo.Context) error {
	var req putCharactersReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}

	chars, err := s.Story.SetCharacters(c.Param("userId"), req.Characters)
	if err != nil {
		return storyError(err, "Error saving characters")
	}
	return c.JSON(http.StatusOK, charactersResp{Success: true, Characters: chars})
}
