// Package middleware guards the operator API with a single admin password
// and an HS256 session token.
package middleware

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/utils"
)

const (
	cookieName           = "dispatch_auth"
	tokenDuration        = 24 * time.Hour
	tokenIssuer          = "printdispatch"
	settingsKeyPassword  = "admin_password"
	settingsKeyJWTSecret = "jwt_secret"
)

var (
	errSetupRequired = errors.New("setup required")
	errWrongPassword = errors.New("invalid password")
)

type Claims struct {
	jwt.RegisteredClaims
	Authenticated bool `json:"authenticated"`
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

type SetupRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type StatusResponse struct {
	Authenticated bool `json:"authenticated"`
	SetupRequired bool `json:"setup_required"`
}

// AuthMiddleware issues and checks session tokens. Its key also seals
// secrets stored in the database.
type AuthMiddleware struct {
	settings *db.SettingsOperations
	secret   []byte
}

func NewAuthMiddleware(settings *db.SettingsOperations) (*AuthMiddleware, error) {
	secret, err := loadOrCreateKey(context.Background(), settings)
	if err != nil {
		return nil, err
	}
	return &AuthMiddleware{settings: settings, secret: secret}, nil
}

func loadOrCreateKey(ctx context.Context, settings *db.SettingsOperations) ([]byte, error) {
	setting, err := settings.GetSetting(ctx, settingsKeyJWTSecret)
	if err == nil {
		return hex.DecodeString(setting.Value)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	key := utils.GenerateRandomKey()
	if err := settings.SetSetting(ctx, settingsKeyJWTSecret, hex.EncodeToString(key), false); err != nil {
		return nil, err
	}
	return key, nil
}

func (a *AuthMiddleware) passwordHash(ctx context.Context) (string, error) {
	setting, err := a.settings.GetSetting(ctx, settingsKeyPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errSetupRequired
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (a *AuthMiddleware) setupRequired(ctx context.Context) bool {
	_, err := a.passwordHash(ctx)
	return errors.Is(err, errSetupRequired)
}

func (a *AuthMiddleware) checkPassword(ctx context.Context, password string) error {
	hash, err := a.passwordHash(ctx)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return errWrongPassword
	}
	return nil
}

func (a *AuthMiddleware) storePassword(ctx context.Context, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return a.settings.SetSetting(ctx, settingsKeyPassword, string(hash), false)
}

func (a *AuthMiddleware) signToken(now time.Time) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
		},
		Authenticated: true,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthMiddleware) parseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !claims.Authenticated {
		return nil, errors.New("token is not an admin session")
	}
	return claims, nil
}

// requestToken prefers the session cookie over a bearer header.
func requestToken(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// startSession signs a token and sets it as the session cookie.
func (a *AuthMiddleware) startSession(c *gin.Context) bool {
	token, err := a.signToken(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return false
	}
	c.SetCookie(cookieName, token, int(tokenDuration.Seconds()), "/", "", true, true)
	return true
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Invalid request"})
		return
	}

	switch err := a.checkPassword(c.Request.Context(), req.Password); {
	case errors.Is(err, errSetupRequired):
		c.JSON(http.StatusForbidden, LoginResponse{Message: "Setup required"})
		return
	case errors.Is(err, errWrongPassword):
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Invalid password"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Server error"})
		return
	}

	if a.startSession(c) {
		c.JSON(http.StatusOK, LoginResponse{Success: true})
	}
}

func (a *AuthMiddleware) LogoutHandler(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Message: "Logged out"})
}

func (a *AuthMiddleware) StatusHandler(c *gin.Context) {
	if raw := requestToken(c); raw != "" {
		if _, err := a.parseToken(raw); err == nil {
			c.JSON(http.StatusOK, StatusResponse{Authenticated: true})
			return
		}
	}
	c.JSON(http.StatusOK, StatusResponse{SetupRequired: a.setupRequired(c.Request.Context())})
}

func (a *AuthMiddleware) ChangePasswordHandler(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	switch err := a.checkPassword(ctx, req.CurrentPassword); {
	case errors.Is(err, errWrongPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	if err := a.storePassword(ctx, req.NewPassword); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}
	if a.startSession(c) {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password changed"})
	}
}

// SetupHandler sets the first admin password. It is refused once a
// password exists.
func (a *AuthMiddleware) SetupHandler(c *gin.Context) {
	ctx := c.Request.Context()
	if !a.setupRequired(ctx) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Setup already completed"})
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request, password must be at least 6 characters"})
		return
	}

	if err := a.storePassword(ctx, req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save password"})
		return
	}
	if a.startSession(c) {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Setup completed"})
	}
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := requestToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := a.parseToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// PeerToken signs a session token for another instance's hub listener.
// Instances sharing the database share the signing key.
func (a *AuthMiddleware) PeerToken() (string, error) {
	return a.signToken(time.Now())
}

// EncryptSecret seals a stored secret, such as a webhook signing key.
func (a *AuthMiddleware) EncryptSecret(plaintext string) (string, error) {
	return utils.Encrypt(plaintext, a.secret)
}

func (a *AuthMiddleware) DecryptSecret(ciphertext string) (string, error) {
	return utils.Decrypt(ciphertext, a.secret)
}
