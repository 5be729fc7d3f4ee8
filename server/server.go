// Package server exposes the client-visible HTTP surface: create-session,
// get-session, list-recent-sessions, and a backend health passthrough. This
// is everything a UI or CLI needs to drive the engine end to end.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dhollinger/promptmend/backend"
	"github.com/dhollinger/promptmend/optimizer"
	"github.com/dhollinger/promptmend/session"
	"github.com/dhollinger/promptmend/store"
	"github.com/dhollinger/promptmend/utils"
)

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

// Server wires the session manager, the runner, and the backend selector
// behind an echo instance.
type Server struct {
	echo     *echo.Echo
	mgr      *session.Manager
	runner   *session.Runner
	selector *backend.Selector
	logger   utils.Logger
}

func New(mgr *session.Manager, runner *session.Runner, selector *backend.Selector, logger utils.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}

	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		mgr:      mgr,
		runner:   runner,
		selector: selector,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.echo.Group("/api/v1")
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.GET("/sessions", s.listSessions)
	api.GET("/health", s.health)

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

type createSessionRequest struct {
	Prompt            string   `json:"prompt" validate:"required"`
	ContextDomain     string   `json:"contextDomain"`
	Mode              string   `json:"mode" validate:"omitempty,oneof=quick advanced"`
	Iterations        int      `json:"iterations" validate:"gte=0,lte=10"`
	Rounds            int      `json:"rounds" validate:"gte=0,lte=5"`
	GenerateIdentity  *bool    `json:"generateIdentity"`
	GenerateReasoning *bool    `json:"generateReasoning"`
	Temperature       *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens         *int     `json:"maxTokens" validate:"omitempty,gte=1"`
	UserID            string   `json:"userId"`
}

func (req *createSessionRequest) toConfig() optimizer.OptimizationConfig {
	cfg := optimizer.QuickConfig()
	if req.Mode == string(optimizer.ModeAdvanced) {
		cfg = optimizer.AdvancedConfig()
		if req.Iterations > 0 {
			cfg.Iterations = req.Iterations
		}
		if req.Rounds > 0 {
			cfg.Rounds = req.Rounds
		}
	}
	if req.GenerateIdentity != nil {
		cfg.GenerateIdentity = *req.GenerateIdentity
	}
	if req.GenerateReasoning != nil {
		cfg.GenerateReasoning = *req.GenerateReasoning
	}
	cfg.Temperature = req.Temperature
	cfg.MaxTokens = req.MaxTokens
	return cfg
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := s.mgr.Create(c.Request().Context(), req.Prompt, req.ContextDomain, req.UserID, req.toConfig())
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		s.logger.Error("Failed to create session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}

	// The session runs detached from the request; clients poll for progress.
	go func() {
		if err := s.runner.RunSession(context.Background(), sess.ID); err != nil {
			s.logger.Warn("Session ended with error", "session_id", sess.ID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, sess)
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.mgr.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load session")
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) listSessions(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
		}
		limit = n
	}
	status := session.Status(c.QueryParam("status"))
	userID := c.QueryParam("userId")

	sessions, err := s.mgr.ListRecent(c.Request().Context(), userID, status, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) health(c echo.Context) error {
	statuses := s.selector.Health(c.Request().Context())
	code := http.StatusServiceUnavailable
	for _, st := range statuses {
		if st.Available {
			code = http.StatusOK
			break
		}
	}
	return c.JSON(code, statuses)
}
