package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ledgerdesk/assistant-backend/internal/pkg/ctxutil"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

const headerSessionKey = "X-Session-Key"

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(baseLog *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{log: baseLog.With("middleware", "auth"), secret: []byte(secret)}
}

// RequireAuth verifies the bearer token and attaches the principal. Tenant
// and user identity come exclusively from verified claims; client-supplied
// headers cannot influence them.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		principal, err := am.principalFromToken(tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		// The session key only namespaces the caller's own conversations, so
		// a header fallback is acceptable where tenant/user are not.
		if principal.SessionKey == "" {
			principal.SessionKey = strings.TrimSpace(c.GetHeader(headerSessionKey))
		}
		ctx := ctxutil.WithPrincipal(c.Request.Context(), principal)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (am *AuthMiddleware) principalFromToken(tokenString string) (ctxutil.Principal, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return am.secret, nil
	})
	if err != nil {
		return ctxutil.Principal{}, err
	}
	if !token.Valid {
		return ctxutil.Principal{}, errors.New("token invalid")
	}

	principal := ctxutil.Principal{
		TenantKey:   claimString(claims, "tenant"),
		Username:    claimString(claims, "username"),
		DisplayName: claimString(claims, "name"),
		SessionKey:  claimString(claims, "sid"),
	}
	if sub := claimString(claims, "sub"); sub != "" {
		if id, parseErr := uuid.Parse(sub); parseErr == nil {
			principal.UserID = id
		}
	}
	if principal.Username == "" {
		return ctxutil.Principal{}, errors.New("token carries no username claim")
	}
	return principal, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
