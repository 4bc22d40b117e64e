package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/claimops/slatracker/internal/api"
	"github.com/claimops/slatracker/internal/services"
)

// Claims are issued by the platform's auth service. Subject is the employee ref.
type Claims struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthConfig holds JWT authentication configuration
type JWTAuthConfig struct {
	// Enabled determines if JWT authentication is enforced
	Enabled bool

	// JWTSecret is the shared HS256 key
	JWTSecret string

	// SkipPaths are paths that don't require authentication. A trailing "*"
	// matches by prefix.
	SkipPaths []string

	Logger *zap.Logger
}

// JWTAuthMiddleware validates bearer tokens and attaches the caller's scope
// to the request context.
type JWTAuthMiddleware struct {
	config  *JWTAuthConfig
	log     *zap.Logger
	mu      sync.RWMutex
	skipMap map[string]bool
}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config *JWTAuthConfig) *JWTAuthMiddleware {
	if config == nil {
		config = &JWTAuthConfig{}
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := &JWTAuthMiddleware{
		config:  config,
		log:     log.Named("auth"),
		skipMap: make(map[string]bool),
	}
	for _, path := range config.SkipPaths {
		m.skipMap[path] = true
	}
	return m
}

// GenerateToken signs claims for ttl. Production tokens come from the auth
// service; this exists for local tooling and tests.
func (m *JWTAuthMiddleware) GenerateToken(employeeRef, companyRef, name string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	secret := m.config.JWTSecret
	m.mu.RUnlock()

	now := time.Now()
	claims := Claims{
		CompanyID: companyRef,
		Name:      name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   employeeRef,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken validates a JWT token and returns the claims
func (m *JWTAuthMiddleware) ValidateToken(tokenString string) (*Claims, error) {
	m.mu.RLock()
	secret := m.config.JWTSecret
	m.mu.RUnlock()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.CompanyID == "" {
		return nil, fmt.Errorf("%w: company_id claim is required", jwt.ErrTokenInvalidClaims)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub claim is required", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}

// Wrap wraps an http.Handler with JWT authentication
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.IsEnabled() || r.Method == http.MethodOptions || m.shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := m.extractToken(r)
		if tokenString == "" {
			m.unauthorized(w, "Missing authentication token")
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			m.log.Info("rejected token",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
			m.unauthorized(w, msg)
			return
		}

		ctx := services.WithScope(r.Context(), services.Scope{
			CompanyRef:  claims.CompanyID,
			EmployeeRef: claims.Subject,
			Name:        claims.Name,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WrapFunc wraps an http.HandlerFunc with JWT authentication
func (m *JWTAuthMiddleware) WrapFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.Wrap(next).ServeHTTP(w, r)
	}
}

func (m *JWTAuthMiddleware) shouldSkipAuth(path string) bool {
	if m.skipMap[path] {
		return true
	}
	for skipPath := range m.skipMap {
		if prefix, ok := strings.CutSuffix(skipPath, "*"); ok && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// extractToken reads the bearer token. Browsers cannot set headers on a
// websocket handshake, so /ws/ paths also accept ?token=.
func (m *JWTAuthMiddleware) extractToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if strings.HasPrefix(r.URL.Path, "/ws/") {
		return r.URL.Query().Get("token")
	}
	return ""
}

func (m *JWTAuthMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="API"`)
	api.RespondErrorWithCode(w, http.StatusUnauthorized, "unauthorized", message)
}

// SetEnabled enables or disables authentication
func (m *JWTAuthMiddleware) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Enabled = enabled
}

// IsEnabled returns whether authentication is enabled
func (m *JWTAuthMiddleware) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Enabled
}
