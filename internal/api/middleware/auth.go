// Package middleware carries the admin-session guard. Printer-facing
// dispatch routes never pass through this package: serial trust is the
// only authentication the protocol has, per spec. This guards the
// operator surface that needs more than that — forcing a config reload
// and reading the audit trail.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/cloudprnt/internal/db"
)

const (
	cookieName           = "cloudprnt_admin"
	tokenDuration        = 24 * time.Hour
	settingsKeyPassword  = "admin_password"
	settingsKeyJWTSecret = "jwt_secret"
)

// Claims is the JWT payload for an admin session. There is exactly one
// admin account, so Authenticated is a formality: its real job is
// distinguishing a validly-signed-but-stale token shape from a current
// one if the claim set ever grows.
type Claims struct {
	jwt.RegisteredClaims
	Authenticated bool `json:"authenticated"`
}

// Auth guards the admin-gated routes this service exposes: forcing a
// config reload and paging through the audit trail. Grounded on the teacher's AuthMiddleware
// (internal/api/middleware/auth.go): same JWT-in-cookie-or-bearer-header
// pattern, same bcrypt-hashed single admin password backed by a settings
// table. Session management beyond that — logout, password change,
// symmetric setting encryption — has no caller in this dispatcher and
// was dropped rather than carried as unused surface.
type Auth struct {
	store  *db.DB
	secret []byte
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type SetupRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type StatusResponse struct {
	Authenticated bool `json:"authenticated"`
	SetupRequired bool `json:"setup_required"`
}

// NewAuth builds an Auth guard, generating and persisting a JWT signing
// secret on first run.
func NewAuth(store *db.DB) (*Auth, error) {
	a := &Auth{store: store}

	secret, err := a.getOrCreateSecret()
	if err != nil {
		return nil, err
	}
	a.secret = secret
	return a, nil
}

func (a *Auth) getOrCreateSecret() ([]byte, error) {
	value, ok, err := a.store.GetSetting(settingsKeyJWTSecret)
	if err != nil {
		return nil, err
	}
	if ok {
		return hex.DecodeString(value)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := a.store.SetSetting(settingsKeyJWTSecret, hex.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

func (a *Auth) isSetupRequired() bool {
	_, ok, err := a.store.GetSetting(settingsKeyPassword)
	return err == nil && !ok
}

func (a *Auth) generateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
			Issuer:    "cloudprntd",
		},
		Authenticated: true,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (a *Auth) tokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func (a *Auth) setAuthCookie(c *gin.Context, token string) {
	c.SetCookie(cookieName, token, int(tokenDuration.Seconds()), "/", "", true, true)
}

// startSession mints a token, sets the session cookie, and writes success
// JSON. Both SetupHandler and LoginHandler end this way once the
// password check has passed; centralizing it means a change to the
// session envelope (cookie flags, response shape) happens once.
func (a *Auth) startSession(c *gin.Context, logCtx string) {
	token, err := a.generateToken()
	if err != nil {
		log.Printf("[auth] %s: failed to generate session token: %v", logCtx, err)
		c.JSON(http.StatusInternalServerError, LoginResponse{Success: false, Message: "failed to generate token"})
		return
	}
	a.setAuthCookie(c, token)
	c.JSON(http.StatusOK, LoginResponse{Success: true})
}

// SetupHandler accepts the initial admin password. Refuses once a
// password already exists.
func (a *Auth) SetupHandler(c *gin.Context) {
	if !a.isSetupRequired() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "setup already completed"})
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[auth] setup: failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}
	if err := a.store.SetSetting(settingsKeyPassword, string(hashed)); err != nil {
		log.Printf("[auth] setup: failed to persist password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save password"})
		return
	}

	a.startSession(c, "setup")
}

// LoginHandler exchanges the admin password for a session cookie.
func (a *Auth) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Success: false, Message: "invalid request"})
		return
	}
	if a.isSetupRequired() {
		c.JSON(http.StatusForbidden, LoginResponse{Success: false, Message: "setup required"})
		return
	}

	value, ok, err := a.store.GetSetting(settingsKeyPassword)
	if err != nil || !ok {
		log.Printf("[auth] login: failed to load stored password: %v", err)
		c.JSON(http.StatusInternalServerError, LoginResponse{Success: false, Message: "server error"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(value), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, LoginResponse{Success: false, Message: "invalid password"})
		return
	}

	a.startSession(c, "login")
}

// StatusHandler reports whether the caller holds a valid session and
// whether initial setup still needs to run.
func (a *Auth) StatusHandler(c *gin.Context) {
	token := a.tokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusOK, StatusResponse{Authenticated: false, SetupRequired: a.isSetupRequired()})
		return
	}
	claims, err := a.validateToken(token)
	if err != nil {
		c.JSON(http.StatusOK, StatusResponse{Authenticated: false, SetupRequired: a.isSetupRequired()})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Authenticated: claims.Authenticated, SetupRequired: false})
}

// RequireAuth aborts with 401 unless the request carries a valid admin
// session. Attach only to the routes spec.md §6 calls admin-gated.
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		claims, err := a.validateToken(token)
		if err != nil || !claims.Authenticated {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		c.Next()
	}
}
