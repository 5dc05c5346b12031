package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chronicles/pkg/story"
)

type Server struct {
	Echo  *echo.Echo
	Story *story.Service
	Ctx   context.Context
}

type Options struct {
	// AllowedOrigins may contain wildcards such as https://*.vercel.app.
	AllowedOrigins []string
}

func NewServer(ctx context.Context, svc *story.Service, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Echo:  e,
		Story: svc,
		Ctx:   ctx,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				log.Warn("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
				return nil
			}
			log.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     opts.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		MaxAge:           int((12 * time.Hour).Seconds()),
	}))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Echo.GET("/", s.handleGetRoot)
	s.Echo.GET("/health", s.handleGetHealth)

	api := s.Echo.Group("/api")
	api.GET("/modes", s.handleGetModes)
	api.POST("/start-story", s.handlePostStartStory)
	api.POST("/continue-story", s.handlePostContinueStory)
	api.POST("/continue-story/stream", s.handlePostContinueStoryStream) // SSE deltas, then done
	api.POST("/generate", s.handlePostGenerate)

	sess := api.Group("/session/:userId")
	sess.GET("", s.handleGetSession)
	sess.DELETE("", s.handleDeleteSession)
	sess.POST("/suggestions", s.handlePostSuggestions)
	sess.GET("/characters", s.handleGetCharacters)
	sess.POST("/characters", s.handlePostCharacters) // extract from the story so far
	sess.PUT("/characters", s.handlePutCharacters)
}

func (s *Server) Start(addr string) error {
	log.Info("server listening", "addr", addr, "modes", len(s.Story.Modes()))
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("shutting down server")
	return s.Echo.Shutdown(ctx)
}
