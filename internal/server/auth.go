package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeaders trusts X-Actor-Id / X-Actor-Role. Local development only.
	AllowActorHeaders bool
	// DevLogin exposes POST /auth/dev/login, which mints tokens for any actor.
	DevLogin bool
}

type Principal struct {
	ActorID string
	Role    string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// callerFromContext returns the engine caller for an authenticated request.
func callerFromContext(ctx context.Context) (engine.Caller, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return engine.Caller{ID: p.ActorID, Role: p.Role}, nil
	}
	return engine.Caller{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	if claims.Role == "" {
		return Principal{}, errors.New("role claim required")
	}
	return Principal{ActorID: claims.Subject, Role: claims.Role, Source: "jwt"}, nil
}

func signDevToken(secret, actorID, role string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// authenticateAPIKey resolves a key to its actor; the actor's stored role applies.
func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	a, err := r.ActorByAPIKey(ctx, key)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ActorID: a.ID, Role: a.Role, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// publicPaths need no principal. The payment webhook authenticates with its
// own shared secret.
func publicPaths(basePath string) []string {
	return []string{
		path.Join(basePath, "health"),
		path.Join(basePath, "auth/dev/login"),
		path.Join(basePath, "openapi.json"),
		path.Join(basePath, "docs"),
		path.Join(basePath, webhookPath),
	}
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo, log logrus.FieldLogger) func(http.Handler) http.Handler {
	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			headerActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					log.WithError(err).Debug("jwt rejected")
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKeyHeader != "" {
				principal, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if headerActor != "" && cfg.AllowActorHeaders {
				role := strings.TrimSpace(req.Header.Get("X-Actor-Role"))
				log.WithFields(logrus.Fields{"actor_id": headerActor, "role": role}).Warn("trusting unauthenticated actor headers")
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), Principal{
					ActorID: headerActor,
					Role:    role,
					Source:  "actor_header",
				})))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	if !authCfg.DevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		role := strings.TrimSpace(input.Body.Role)
		if actor == "" || !e.Policy.HasRole(role) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and a configured role are required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, role, 12*time.Hour)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
