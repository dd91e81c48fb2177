package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ownerKey     = "owner_id"
	ownerHeader  = "X-User-ID"
	bearerPrefix = "Bearer "
)

// Claims carries the caller identity, under the same claim name the web
// front end issues.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// GenerateJWT signs a token for userID. Used by tests and automationctl.
func GenerateJWT(secret, userID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// IdentityMiddleware resolves the caller's owner id. With a secret it
// requires a valid HS256 bearer token; without one it trusts X-User-ID.
func IdentityMiddleware(secret string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		owner, err := resolveOwner(c, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, utils.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set(ownerKey, owner)
		c.Next(ctx)
	}
}

func resolveOwner(c *app.RequestContext, secret string) (string, error) {
	if secret == "" {
		owner := strings.TrimSpace(string(c.GetHeader(ownerHeader)))
		if owner == "" {
			return "", errors.New("missing " + ownerHeader + " header")
		}
		return owner, nil
	}

	header := string(c.GetHeader("Authorization"))
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", errors.New("missing bearer token")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.UserID == "" {
		return "", errors.New("token has no userId")
	}
	return claims.UserID, nil
}

func ownerOf(c *app.RequestContext) string {
	return c.GetString(ownerKey)
}
