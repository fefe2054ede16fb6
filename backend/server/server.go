package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jghoshh/habittree/backend/engine"
	"github.com/jghoshh/habittree/backend/metrics"
	"github.com/jghoshh/habittree/backend/server/contextkey"
)

// shutdownTimeout bounds how long in-flight requests may run after Start's context ends.
const shutdownTimeout = 10 * time.Second

// jwtMiddleware is a middleware function that performs JWT validation.
//
// It reads the bearer token from the Authorization header, verifies its HMAC signature
// with signingKey and its expiry, and injects the "id" claim into the request's context
// under contextkey.UserIDKey. Requests without a valid token are rejected with 401.
func jwtMiddleware(signingKey string, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(signingKey), nil
		})
		if err != nil || !token.Valid {
			logger.Debug("rejected bearer token", "error", err)
			writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		userID, _ := claims["id"].(string)
		if userID == "" {
			writeJSONError(w, http.StatusUnauthorized, "token has no user id")
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkey.WithUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	splitToken := strings.SplitN(authHeader, "Bearer ", 2)
	if len(splitToken) != 2 || strings.TrimSpace(splitToken[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(splitToken[1]), true
}

// recoveryMiddleware is a middleware function that recovers from panics and provides a generic error message to the client.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "path", r.URL.Path, "panic", err)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Config holds what NewRouter needs.
type Config struct {
	Service    *engine.Service
	Metrics    *metrics.Metrics
	SigningKey string
	Logger     *slog.Logger
	// AccessLog receives one line per request in Apache combined format.
	AccessLog io.Writer
}

// NewRouter builds the HTTP handler: the authenticated /api routes plus /metrics and
// /healthz, wrapped with panic recovery, CORS and access logging.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AccessLog == nil {
		cfg.AccessLog = io.Discard
	}
	h := &habitHandlers{service: cfg.Service, logger: cfg.Logger}

	r := mux.NewRouter()
	r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return jwtMiddleware(cfg.SigningKey, cfg.Logger, next)
	})
	api.HandleFunc("/habits", h.listHabits).Methods(http.MethodGet)
	api.HandleFunc("/habits", h.addHabit).Methods(http.MethodPost)
	api.HandleFunc("/habits/{id}", h.deleteHabit).Methods(http.MethodDelete)
	api.HandleFunc("/habits/{id}/toggle", h.toggleCompletion).Methods(http.MethodPost)
	api.HandleFunc("/habits/{id}/history/{date}", h.setHistoryDate).Methods(http.MethodPut)
	api.HandleFunc("/progress", h.progress).Methods(http.MethodGet)
	api.HandleFunc("/progress/verify", h.verify).Methods(http.MethodGet)
	api.HandleFunc("/progress/stream", h.stream).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", h.leaderboard).Methods(http.MethodGet)
	api.HandleFunc("/friends/{id}", h.linkFriend).Methods(http.MethodPut)

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(recoveryMiddleware(cfg.Logger, r))

	return handlers.CombinedLoggingHandler(cfg.AccessLog, corsRouter)
}

// Start serves handler on the host of serverURL until ctx is done, then shuts the
// server down gracefully.
func Start(ctx context.Context, serverURL string, handler http.Handler, logger *slog.Logger) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return errors.Wrap(err, "invalid server url")
	}

	server := &http.Server{
		Handler:     handler,
		Addr:        u.Host,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: progress streams stay open. Request contexts end with ctx
		// so those streams let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	return nil
}
