package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/services"
	"github.com/switchyard-io/switchyard/pkg/auth"
)

// SDKKeyHeader carries the project-scoped SDK credential.
const SDKKeyHeader = "X-SDK-Key"

// AuthMiddleware authenticates the two caller kinds: admin users presenting
// bearer JWTs, and SDK clients presenting project credentials. It only
// establishes identity; it enforces no authorization beyond that.
type AuthMiddleware struct {
	tokens   *auth.TokenManager
	projects *services.ProjectService
	logger   zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(tokens *auth.TokenManager, projects *services.ProjectService, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		projects: projects,
		logger:   logger.With().Str("middleware", "auth").Logger(),
	}
}

type contextKey string

const (
	claimsKey  = contextKey("claims")
	projectKey = contextKey("sdk_project")
)

// Authenticate validates a bearer JWT and stores its claims on the request
// context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			m.unauthorized(w, "Missing or invalid authorization header")
			return
		}
		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			m.logger.Debug().Err(err).Msg("Token validation failed")
			m.unauthorized(w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// AuthenticateSDK resolves the X-SDK-Key header to its project and stores
// the project on the request context.
func (m *AuthMiddleware) AuthenticateSDK(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(SDKKeyHeader)
		if key == "" {
			m.unauthorized(w, "Missing "+SDKKeyHeader+" header")
			return
		}
		project, err := m.projects.VerifySDKKey(r.Context(), key)
		if err != nil {
			m.logger.Debug().Err(err).Msg("SDK key verification failed")
			m.unauthorized(w, "Invalid SDK key")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), projectKey, project)))
	})
}

// ClaimsFrom returns the authenticated admin claims, if any.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// ActorFrom returns the audit identity of the authenticated admin, or
// "unknown" outside an authenticated request.
func ActorFrom(ctx context.Context) string {
	if claims := ClaimsFrom(ctx); claims != nil {
		return claims.Actor()
	}
	return "unknown"
}

// ProjectFrom returns the project resolved from an SDK credential, if any.
func ProjectFrom(ctx context.Context) *repository.Project {
	project, _ := ctx.Value(projectKey).(*repository.Project)
	return project
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func (m *AuthMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": message})
}
