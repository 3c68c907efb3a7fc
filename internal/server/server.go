package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tclemons/salestaxd/internal/config"
)

// Server is the HTTP front of the service.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
	logger     *zap.Logger
}

// New builds the server and registers its routes.
func New(cfg *config.Config, handlers *Handlers, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{
		router:   router,
		handlers: handlers,
		logger:   logger,
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout.Std(),
			WriteTimeout: cfg.Server.WriteTimeout.Std(),
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(Recovery(s.logger))
	s.router.Use(RequestID)
	s.router.Use(Logging(s.logger))

	s.router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)

	s.router.HandleFunc("/calculate", s.handlers.Calculate).Methods(http.MethodPost)
	s.router.HandleFunc("/states", s.handlers.States).Methods(http.MethodGet)

	s.router.HandleFunc("/devices", s.handlers.Devices).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/search", s.handlers.Search).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/popular", s.handlers.Popular).Methods(http.MethodGet)
	s.router.HandleFunc("/device/{name}", s.handlers.Device).Methods(http.MethodGet)
	s.router.HandleFunc("/device/{name}/price", s.handlers.DevicePrice).Methods(http.MethodGet)

	s.router.HandleFunc("/upload", s.handlers.Upload).Methods(http.MethodPost)
	s.router.HandleFunc("/upload/preview", s.handlers.UploadPreview).Methods(http.MethodPost)
	s.router.HandleFunc("/refresh", s.handlers.Refresh).Methods(http.MethodPost)

	s.router.HandleFunc("/status", s.handlers.Status).Methods(http.MethodGet)
	s.router.HandleFunc("/sheet/status", s.handlers.SheetStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/validate", s.handlers.Validate).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
