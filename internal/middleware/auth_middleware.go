package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/Dhoini/marketplace-payments/pkg/logger"
	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextUserIDKey ключ для хранения ID пользователя в контексте gin.
	ContextUserIDKey ContextKey = "userID"
	// ContextRoleKey ключ для хранения роли пользователя.
	ContextRoleKey   ContextKey = "userRole"
	authHeaderPrefix            = "Bearer "
)

var (
	errMalformedToken = errors.New("malformed token")
	errBadSignature   = errors.New("invalid token signature")
	errExpiredToken   = errors.New("token expired")
)

type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims выдаются сервисом аутентификации: {id, role}.
type TokenClaims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserID id из claims, при его отсутствии sub.
func (c *TokenClaims) UserID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Subject
}

type JWTMiddleware struct {
	log       *logger.Logger
	validator TokenValidator
}

func NewJWTMiddleware(log *logger.Logger, validator TokenValidator) *JWTMiddleware {
	return &JWTMiddleware{
		log:       log,
		validator: validator,
	}
}

// RequireAuth без токена 401, с недействительным токеном 403.
func (m *JWTMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, authHeaderPrefix) {
			m.handleAuthError(c, "Missing authorization token", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, authHeaderPrefix)
		claims, err := m.validator.Validate(tokenString)
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err), http.StatusForbidden)
			return
		}

		userID := claims.UserID()
		if userID == "" {
			m.handleAuthError(c, "User ID missing in token", http.StatusForbidden)
			return
		}

		c.Set(string(ContextUserIDKey), userID)
		c.Set(string(ContextRoleKey), claims.Role)
		m.log.Debugw("User authenticated via HTTP", "userID", userID, "role", claims.Role)
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли. Ставится после RequireAuth.
func (m *JWTMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(string(ContextRoleKey))
		if !slices.Contains(roles, role) {
			m.handleAuthError(c, "Insufficient role", http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string, status int) {
	m.log.Warnw("HTTP Authentication failed", "path", c.Request.URL.Path, "error", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: status,
	}, status)
	c.Abort()
}

// UserID id пользователя, установленный RequireAuth.
func UserID(c *gin.Context) string {
	return c.GetString(string(ContextUserIDKey))
}

// Role роль пользователя, установленная RequireAuth.
func Role(c *gin.Context) string {
	return c.GetString(string(ContextRoleKey))
}

// DefaultTokenValidator - реализация валидатора по умолчанию (HS256).
type DefaultTokenValidator struct {
	Secret []byte
}

func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errMalformedToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errBadSignature
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errExpiredToken
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
