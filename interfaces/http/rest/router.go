package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Cix-16/opencti/application/commands/bus"
	querybus "github.com/Cix-16/opencti/application/queries/bus"
	"github.com/Cix-16/opencti/interfaces/http/rest/handlers"
	"github.com/Cix-16/opencti/interfaces/http/rest/middleware"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
)

// Router creates and configures the HTTP router
type Router struct {
	commandBus     *bus.CommandBus
	queryBus       *querybus.QueryBus
	authenticate   func(http.Handler) http.Handler
	subscriptions  http.Handler
	errors         *errors.ErrorHandler
	allowedOrigins []string
	logger         *zap.Logger
}

// RouterConfig carries the pieces of the router that depend on the runtime
type RouterConfig struct {
	Authenticate   func(http.Handler) http.Handler
	Subscriptions  http.Handler // nil disables the websocket endpoint
	AllowedOrigins []string
}

// NewRouter creates a new router instance
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	cfg RouterConfig,
	errHandler *errors.ErrorHandler,
	logger *zap.Logger,
) *Router {
	return &Router{
		commandBus:     commandBus,
		queryBus:       queryBus,
		authenticate:   cfg.Authenticate,
		subscriptions:  cfg.Subscriptions,
		errors:         errHandler,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestIDHeader)
	router.Use(middleware.Logger(rt.logger))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)

	router.Route("/api/v2", func(r chi.Router) {
		if rt.authenticate != nil {
			r.Use(rt.authenticate)
		}

		entityHandler := handlers.NewEntityHandler(rt.commandBus, rt.queryBus, rt.errors, rt.logger)
		r.Route("/entities/{type}", entityHandler.Routes)

		workspaceHandler := handlers.NewWorkspaceHandler(rt.queryBus, rt.errors)
		r.Route("/workspaces/{id}", workspaceHandler.Routes)

		if rt.subscriptions != nil {
			r.Handle("/subscriptions", rt.subscriptions)
		}
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// requestIDHeader echoes chi's request id so clients can quote it, and
// hands it to the command and query logs.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
			r = r.WithContext(common.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
