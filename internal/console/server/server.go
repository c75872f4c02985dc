package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/console/handler"
	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов сессии и share-токенов (RS256)
	validator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler  *handler.AuthHandler      // /auth/token
	dashHandler  *handler.DashboardHandler // /api/v1/dashboard, /s/{token}
	shareHandler *handler.ShareHandler     // /api/v1/share-links
	syncHandler  *handler.SyncHandler      // /api/v1/sync
}

// NewConsoleServer инициализирует HTTP API консоли со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	dashH *handler.DashboardHandler,
	shareH *handler.ShareHandler,
	syncH *handler.SyncHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:       chi.NewRouter(),
		logger:       logger.Named("console-api"),
		validator:    validator,
		authHandler:  authH,
		dashHandler:  dashH,
		shareHandler: shareH,
		syncHandler:  syncH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(engine.AccessLog(s.logger))
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		// Share-ссылка сама является учётными данными
		r.Get("/s/{token}", s.dashHandler.SharedDashboard)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен сессии или share-токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		r.Route("/api/v1/dashboard/customers", func(r chi.Router) {
			r.Get("/", s.dashHandler.ListCustomers)
			r.Get("/{id}", s.dashHandler.GetCustomer)
		})

		// Только администраторы
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Post("/api/v1/share-links", s.shareHandler.Create)
			r.Post("/api/v1/sync", s.syncHandler.Trigger)
			r.Get("/api/v1/sync/runs", s.syncHandler.Runs)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
