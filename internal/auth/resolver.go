// Package auth resolves incoming requests to an authenticated principal from
// either a session JWT or an API key.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/J9-tops/secure-wallet-api/internal/storage"
	"github.com/J9-tops/secure-wallet-api/libs/apikey"
	authlib "github.com/J9-tops/secure-wallet-api/libs/auth"
)

const (
	apiKeyHeader = "X-API-Key"
	principalKey = "auth.principal"
)

// AllPermissions is what a session JWT grants; API keys carry the subset they
// were created with.
var AllPermissions = []string{"deposit", "transfer", "read"}

type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*storage.APIKey, error)
	MarkAPIKeyUsed(ctx context.Context, keyID uuid.UUID) error
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID      uuid.UUID
	Email       string
	Permissions []string
	ViaAPIKey   bool
	KeyID       uuid.UUID
}

func (p Principal) HasPermission(perm string) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

type Resolver struct {
	keys      KeyStore
	jwtSecret []byte
	now       func() time.Time
}

func NewResolver(keys KeyStore, jwtSecret string) *Resolver {
	return &Resolver{keys: keys, jwtSecret: []byte(jwtSecret), now: time.Now}
}

// Middleware authenticates the request via bearer JWT or X-API-Key and stores
// the principal in the gin context. JWT wins when both are present.
func (r *Resolver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := authlib.ExtractBearer(c.GetHeader("Authorization")); token != "" {
			principal, err := r.resolveJWT(token)
			if err != nil {
				unauthorized(c, "invalid or expired session token")
				return
			}
			c.Set(principalKey, principal)
			c.Next()
			return
		}

		if secret := c.GetHeader(apiKeyHeader); secret != "" {
			principal, err := r.resolveAPIKey(c.Request.Context(), secret)
			if err != nil {
				unauthorized(c, "invalid api key")
				return
			}
			c.Set(principalKey, principal)
			c.Next()
			return
		}

		unauthorized(c, "authentication required")
	}
}

func (r *Resolver) resolveJWT(token string) (Principal, error) {
	claims, err := authlib.ParseJWT(token, r.jwtSecret)
	if err != nil {
		return Principal{}, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:      userID,
		Email:       claims.Email,
		Permissions: AllPermissions,
	}, nil
}

func (r *Resolver) resolveAPIKey(ctx context.Context, secret string) (Principal, error) {
	if err := apikey.Validate(secret); err != nil {
		return Principal{}, err
	}

	key, err := r.keys.GetAPIKeyByHash(ctx, apikey.Hash(secret))
	if err != nil {
		return Principal{}, err
	}
	if !key.ActiveAt(r.now().UTC()) {
		return Principal{}, errors.New("api key inactive")
	}

	// Usage stamping is advisory; the request proceeds even if it fails.
	_ = r.keys.MarkAPIKeyUsed(ctx, key.ID)

	return Principal{
		UserID:      key.UserID,
		Permissions: key.Permissions,
		ViaAPIKey:   true,
		KeyID:       key.ID,
	}, nil
}

// RequirePermission gates a route on the resolved principal's permissions.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := FromContext(c)
		if !ok {
			unauthorized(c, "authentication required")
			return
		}
		if !principal.HasPermission(perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "missing permission: " + perm,
			})
			return
		}
		c.Next()
	}
}

// RequireSession restricts a route to JWT sessions; key management is never
// reachable with an API key.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := FromContext(c)
		if !ok || principal.ViaAPIKey {
			unauthorized(c, "session token required")
			return
		}
		c.Next()
	}
}

func FromContext(c *gin.Context) (Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "UNAUTHORIZED",
		"message": message,
	})
}
