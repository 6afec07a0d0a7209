package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/J9-tops/secure-wallet-api/internal/oauth"
	"github.com/J9-tops/secure-wallet-api/internal/rate"
	"github.com/J9-tops/secure-wallet-api/internal/storage"
	authlib "github.com/J9-tops/secure-wallet-api/libs/auth"
)

const stateCookie = "oauth_state"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// OAuthProvider is the Google flow: consent redirect plus code exchange.
type OAuthProvider interface {
	AuthURL() (authURL, state string, err error)
	Exchange(ctx context.Context, code string) (*oauth.UserInfo, error)
}

type UserStore interface {
	GetOrCreateUserByGoogle(ctx context.Context, email, googleID, name, picture string) (*storage.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*storage.User, error)
}

type AuthHandler struct {
	Store       UserStore
	Provider    OAuthProvider
	Logger      *slog.Logger
	JWTSecret   []byte
	SessionTTL  time.Duration
	Issuer      string
	RateLimiter rate.Limiter
	Clock       Clock
}

func NewAuthHandler(store UserStore, provider OAuthProvider, logger *slog.Logger, jwtSecret string, sessionTTL time.Duration, issuer string, limiter rate.Limiter) *AuthHandler {
	return &AuthHandler{
		Store:       store,
		Provider:    provider,
		Logger:      logger,
		JWTSecret:   []byte(jwtSecret),
		SessionTTL:  sessionTTL,
		Issuer:      issuer,
		RateLimiter: limiter,
		Clock:       systemClock{},
	}
}

type sessionResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	Email     string `json:"email"`
}

// Login redirects the browser to the Google consent screen, pinning the CSRF
// state in a short-lived cookie.
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.allow(c) {
		return
	}

	authURL, state, err := h.Provider.AuthURL()
	if err != nil {
		h.Logger.Error("auth url generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	c.SetCookie(stateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// Callback completes the flow: verify state, exchange the code, upsert the
// user, and mint a session JWT.
func (h *AuthHandler) Callback(c *gin.Context) {
	if !h.allow(c) {
		return
	}

	state := c.Query("state")
	cookieState, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != cookieState {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "oauth state mismatch"})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "missing authorization code"})
		return
	}

	info, err := h.Provider.Exchange(c.Request.Context(), code)
	if err != nil {
		h.Logger.Warn("oauth exchange failed", "error", err)
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authorization code rejected"})
		return
	}

	user, err := h.Store.GetOrCreateUserByGoogle(c.Request.Context(), info.Email, info.ID, info.Name, info.Picture)
	if err != nil {
		h.Logger.Error("user upsert failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	token, err := authlib.NewSessionToken(user.ID.String(), user.Email, h.JWTSecret, h.SessionTTL, h.Clock.Now(), h.Issuer)
	if err != nil {
		h.Logger.Error("jwt sign failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		Token:     token,
		ExpiresIn: int64(h.SessionTTL.Seconds()),
		Email:     user.Email,
	})
}

func (h *AuthHandler) allow(c *gin.Context) bool {
	if h.RateLimiter == nil {
		return true
	}
	allowed, retryAfter, err := h.RateLimiter.Allow(c.Request.Context(), c.ClientIP(), h.Clock.Now())
	if err != nil {
		h.Logger.Error("rate limiter failed", "error", err)
		return true
	}
	if !allowed {
		c.Header("Retry-After", formatSeconds(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
		return false
	}
	return true
}

func formatSeconds(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
