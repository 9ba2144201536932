package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/sovereign-gateway/internal/audit"
	"github.com/xela07ax/sovereign-gateway/internal/console/handler"
	"github.com/xela07ax/sovereign-gateway/internal/engine"
	"github.com/xela07ax/sovereign-gateway/internal/infra/auth"
)

// Server — HTTP-периметр шлюза: /mcp для агентов и /ui для оператора.
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	guard     *auth.Guard
	gateway   *engine.Gateway   // POST /mcp
	uiHandler *handler.UIHandler // /ui/*
}

// New собирает роутер со всеми зависимостями.
func New(logger *zap.Logger, guard *auth.Guard, gateway *engine.Gateway, ui *handler.UIHandler) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("http"),
		guard:     guard,
		gateway:   gateway,
		uiHandler: ui,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. MCP: bearer + лимит, аудит вида mcp_tool ---
	r.Group(func(r chi.Router) {
		r.Use(s.guard.Middleware(audit.KindMCPTool))
		r.Post("/mcp", s.gateway.HandleMCP)
	})

	// --- 4. UI: тот же периметр, аудит вида http_ui ---
	r.Route("/ui", func(r chi.Router) {
		r.Use(s.guard.Middleware(audit.KindHTTPUI))
		r.Get("/state", s.uiHandler.GetState)
		r.Get("/history", s.uiHandler.GetHistory)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
