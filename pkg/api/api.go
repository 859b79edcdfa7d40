package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/config"
	"github.com/ethpandaops/recipe-app-api/pkg/metrics"
	"github.com/ethpandaops/recipe-app-api/pkg/recipe"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/ethpandaops/recipe-app-api/pkg/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP API server.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	Handler() http.Handler
}

// server implements Server.
type server struct {
	log            logrus.FieldLogger
	cfg            *config.Config
	store          store.Store
	recipes        recipe.Service
	auth           auth.Service
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	hub            *Hub
	srv            *http.Server
	router         chi.Router
	cancel         context.CancelFunc

	// Rate limiters for different endpoint tiers.
	authRateLimiter          *IPRateLimiter
	publicRateLimiter        *IPRateLimiter
	authenticatedRateLimiter *IPRateLimiter
}

// Ensure server implements Server.
var _ Server = (*server)(nil)

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	recipes recipe.Service,
	authSvc auth.Service,
	m *metrics.Metrics,
) Server {
	s := &server{
		log:            log.WithField("component", "api"),
		cfg:            cfg,
		store:          st,
		recipes:        recipes,
		auth:           authSvc,
		metrics:        m,
		metricsHandler: promhttp.Handler(),
		hub:            NewHub(log, m),
	}

	// Initialize rate limiters if enabled.
	if cfg.Server.RateLimit.Enabled {
		s.authRateLimiter = NewIPRateLimiter(cfg.Server.RateLimit.Auth.RequestsPerMinute)
		s.publicRateLimiter = NewIPRateLimiter(cfg.Server.RateLimit.Public.RequestsPerMinute)
		s.authenticatedRateLimiter = NewIPRateLimiter(cfg.Server.RateLimit.Authenticated.RequestsPerMinute)

		s.log.WithFields(logrus.Fields{
			"auth_rpm":          cfg.Server.RateLimit.Auth.RequestsPerMinute,
			"public_rpm":        cfg.Server.RateLimit.Public.RequestsPerMinute,
			"authenticated_rpm": cfg.Server.RateLimit.Authenticated.RequestsPerMinute,
		}).Info("Rate limiting enabled")
	}

	// Push recipe changes to the owner's WebSocket connections.
	recipes.SetChangeCallback(s.hub.BroadcastEvent)

	s.setupRouter()

	return s
}

// Handler returns the root HTTP handler.
func (s *server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("addr", s.cfg.Server.Listen).Info("Starting API server")

	ctx, s.cancel = context.WithCancel(ctx)

	// Start WebSocket hub.
	go s.hub.Run(ctx)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	for _, rl := range []*IPRateLimiter{s.authRateLimiter, s.publicRateLimiter, s.authenticatedRateLimiter} {
		if rl != nil {
			rl.Stop()
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	if s.srv == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

func (s *server) setupRouter() {
	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(s.metricsMiddleware)

	// CORS.
	if len(s.cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   s.cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}).Handler)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not found.")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method \""+r.Method+"\" not allowed.")
	})

	// Public endpoints with public rate limit.
	r.Group(func(r chi.Router) {
		if s.publicRateLimiter != nil {
			r.Use(s.publicRateLimiter.Middleware)
		}

		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metricsHandler)
		r.Get("/api/schema", s.handleOpenAPISpec)
		r.Get("/api/docs", s.handleDocs)
	})

	// Long-running requests are excluded from the timeout.
	r.Group(func(r chi.Router) {
		if s.authenticatedRateLimiter != nil {
			r.Use(s.authenticatedRateLimiter.Middleware)
		}

		r.Get("/api/ws", s.handleWebSocket)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Account creation and sign-in with strict rate limit.
		r.Group(func(r chi.Router) {
			if s.authRateLimiter != nil {
				r.Use(s.authRateLimiter.Middleware)
			}

			r.Post("/api/user/create", s.handleCreateUser)
			r.Post("/api/user/token", s.handleCreateToken)
			r.Get("/api/user/github", s.handleGitHubAuth)
			r.Get("/api/user/github/callback", s.handleGitHubCallback)
		})

		// Protected routes with authenticated rate limit.
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(s.auth))

			if s.authenticatedRateLimiter != nil {
				r.Use(s.authenticatedRateLimiter.Middleware)
			}

			r.Route("/api/user", func(r chi.Router) {
				r.Get("/me", s.handleGetMe)
				r.Put("/me", s.handleUpdateMe)
				r.Patch("/me", s.handleUpdateMe)
				r.Post("/logout", s.handleLogout)
			})

			r.Route("/api/recipe", func(r chi.Router) {
				r.Get("/recipes", s.handleListRecipes)
				r.Post("/recipes", s.handleCreateRecipe)
				r.Get("/recipes/{id}", s.handleGetRecipe)
				r.Put("/recipes/{id}", s.handleUpdateRecipe)
				r.Patch("/recipes/{id}", s.handleUpdateRecipe)
				r.Delete("/recipes/{id}", s.handleDeleteRecipe)

				r.Get("/tags", s.handleListTags)
				r.Put("/tags/{id}", s.handleUpdateTag)
				r.Patch("/tags/{id}", s.handleUpdateTag)
				r.Delete("/tags/{id}", s.handleDeleteTag)

				r.Get("/ingredients", s.handleListIngredients)
				r.Put("/ingredients/{id}", s.handleUpdateIngredient)
				r.Patch("/ingredients/{id}", s.handleUpdateIngredient)
				r.Delete("/ingredients/{id}", s.handleDeleteIngredient)
			})

			// Admin-only routes.
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireStaff(s.auth))

				r.Get("/", s.handleAdminIndex)
				r.Get("/users", s.handleAdminListUsers)
				r.Get("/users/{id}", s.handleAdminGetUser)
				r.Patch("/users/{id}", s.handleAdminUpdateUser)
				r.Delete("/users/{id}", s.handleAdminDeleteUser)
				r.Get("/recipes", s.handleAdminListRecipes)
				r.Delete("/recipes/{id}", s.handleAdminDeleteRecipe)
				r.Get("/tags", s.handleAdminListTags)
				r.Get("/ingredients", s.handleAdminListIngredients)
				r.Get("/audit", s.handleAdminListAudit)
			})
		})
	})

	s.router = r
}

// metricsMiddleware records request counts and latency per route pattern.
func (s *server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(status), time.Since(start).Seconds())
	})
}

// ============================================================================
// Response helpers
// ============================================================================

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error" example:"Not found."`
}

// ValidationErrorResponse is returned when a payload fails validation.
type ValidationErrorResponse struct {
	Error  string              `json:"error" example:"Invalid input."`
	Fields map[string][]string `json:"fields"`
}

// writeJSONError writes an error body without a server receiver.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

func (s *server) writeValidation(w http.ResponseWriter, verr *validation.Error) {
	s.writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:  "Invalid input.",
		Fields: verr.Fields,
	})
}

// writeServiceError maps service errors to responses. Unexpected errors are
// logged and reported as "Failed to <action>".
func (s *server) writeServiceError(w http.ResponseWriter, err error, action string) {
	var verr *validation.Error

	switch {
	case errors.As(err, &verr):
		s.writeValidation(w, verr)
	case errors.Is(err, recipe.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Not found.")
	default:
		s.log.WithError(err).Error("Failed to " + action)
		s.writeError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
// It writes a 400 response and returns false when the body is malformed.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var (
		priceErr *store.PriceError
		typeErr  *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &priceErr):
		verr := validation.NewError()
		verr.Add("price", priceErr.Msg)
		s.writeValidation(w, verr)
	case errors.As(err, &typeErr) && typeErr.Field != "":
		verr := validation.NewError()
		verr.Add(typeErr.Field, typeMessage(typeErr.Type.Kind().String()))
		s.writeValidation(w, verr)
	default:
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
	}

	return false
}

func typeMessage(kind string) string {
	switch {
	case strings.HasPrefix(kind, "int"):
		return "A valid integer is required."
	case kind == "string":
		return "Not a valid string."
	case kind == "bool":
		return "Must be a valid boolean."
	case kind == "slice":
		return "Expected a list of items."
	default:
		return validation.MsgInvalid
	}
}

// pathID parses the {id} URL parameter. It writes a 404 and returns false
// when the parameter is not a positive integer.
func (s *server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusNotFound, "Not found.")

		return 0, false
	}

	return id, true
}

// parseIDList parses a comma separated list of IDs such as "1,2,3".
func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// parsePage reads limit and offset query parameters.
func parsePage(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit

	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}

	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}

	return limit, offset
}

func queryBool(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// isSecureRequest checks if the request was made over HTTPS.
func (s *server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}

	// Check X-Forwarded-Proto header (common with reverse proxies).
	return r.Header.Get("X-Forwarded-Proto") == "https"
}

func (s *server) setSessionCookie(w http.ResponseWriter, r *http.Request, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.isSecureRequest(r),
		MaxAge:   maxAge,
	})
}

// ============================================================================
// System handlers
// ============================================================================

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status   string           `json:"status" example:"ok"`
	Database string           `json:"database" example:"ok"`
	Auth     HealthAuthConfig `json:"auth"`
}

// HealthAuthConfig indicates which sign-in methods are enabled.
type HealthAuthConfig struct {
	Password bool `json:"password" example:"true"`
	GitHub   bool `json:"github" example:"false"`
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Returns the health status of the API server and its database
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Failure		429	{object}	ErrorResponse	"Rate limit exceeded"
//	@Router			/health [get]
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:   "ok",
		Database: "ok",
		Auth: HealthAuthConfig{
			Password: true,
			GitHub:   s.auth.GitHubEnabled(),
		},
	}

	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("Database ping failed")

		resp.Status = "degraded"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, resp)
}

// handleWebSocket godoc
//
//	@Summary		WebSocket connection
//	@Description	Streams change notifications for the caller's recipes, tags and ingredients
//	@Tags			websocket
//	@Param			token	query	string	false	"Authentication token"
//	@Success		101		"WebSocket connection established"
//	@Failure		401		{object}	ErrorResponse
//	@Router			/api/ws [get]
func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, s.auth, s.cfg.Server.CORSOrigins, w, r)
}
