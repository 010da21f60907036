package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/auditlogproject/auditlog/internal/auditlog/configuration"
)

const tokenLifetime = time.Hour

type tokenRequest struct {
	Issuer string `json:"issuer" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

// issueToken exchanges the shared issuer/secret pair for a short-lived
// HS256 bearer token.
func issueToken(auth configuration.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Enabled {
			c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
			return
		}
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "issuer and secret are required"})
			return
		}
		if req.Issuer != auth.Issuer || req.Secret != auth.Secret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		})
		signed, err := token.SignedString([]byte(auth.Secret))
		if err != nil {
			log.WithError(err).Error("Failed to sign token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": signed, "expiresIn": int(tokenLifetime.Seconds())})
	}
}

// bearerAuth rejects requests without a valid bearer token.
func bearerAuth(auth configuration.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(auth.Secret), nil
		}, jwt.WithIssuer(auth.Issuer), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
