// Package auth provides owner-token verification and admin auth for
// the management surface. How owners obtain tokens is outside this
// service; it only verifies them.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"keymeter/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Identity is the verified owner behind a management request.
type Identity struct {
	OwnerID string
	Email   string
}

// OwnerVerifier validates owner bearer tokens. With a JWKS URL it
// fetches and caches the provider's keys; otherwise it verifies
// HS256 signatures with the shared secret.
type OwnerVerifier struct {
	secret   []byte
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewOwnerVerifier builds a verifier from configuration. When a JWKS
// URL is configured the initial fetch runs eagerly so a bad URL fails
// startup, not the first request.
func NewOwnerVerifier(cfg config.AuthConfig) (*OwnerVerifier, error) {
	v := &OwnerVerifier{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
	if cfg.JWKSURL != "" {
		ctx := context.Background()
		cache := jwk.NewCache(ctx)
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
		}
		v.jwksURL = cfg.JWKSURL
		v.cache = cache
		return v, nil
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("owner auth requires a jwt_secret or jwks_url")
	}
	v.secret = []byte(cfg.JWTSecret)
	return v, nil
}

// Verify validates a bearer token and extracts the owner identity.
func (v *OwnerVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	opts := []jwt.ParseOption{jwt.WithValidate(true)}
	if v.cache != nil {
		keyset, err := v.cache.Get(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}
		opts = append(opts, jwt.WithKeySet(keyset))
	} else {
		opts = append(opts, jwt.WithKey(jwa.HS256, v.secret))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if token.Subject() == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	id := &Identity{OwnerID: token.Subject()}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			id.Email = s
		}
	}
	return id, nil
}

// Context keys set by OwnerMiddleware.
const (
	ContextOwnerID    = "owner_id"
	ContextOwnerEmail = "owner_email"
)

// OwnerMiddleware rejects requests without a valid owner bearer token
// and stashes the identity in the gin context.
func OwnerMiddleware(v *OwnerVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization: Bearer <token> required"})
			return
		}
		id, err := v.Verify(c.Request.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(ContextOwnerID, id.OwnerID)
		c.Set(ContextOwnerEmail, id.Email)
		c.Next()
	}
}

// AdminMiddleware protects the admin surface with basic auth.
func AdminMiddleware(adminPassword string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, hasAuth := c.Request.BasicAuth()
		if !hasAuth || user != "admin" || password != adminPassword || adminPassword == "" {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
