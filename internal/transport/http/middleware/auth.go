package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var errBadToken = errors.New("invalid bearer token")

// Auth verifies the Authorization bearer JWT and plants the caller's
// identity in the gin context: "userID" from the mandatory sub claim and
// "email" when the token carries one. Only HMAC-signed tokens are accepted.
func Auth(key []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, email, err := bearerIdentity(c.GetHeader("Authorization"), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set("userID", userID)
		if email != "" {
			c.Set("email", email)
		}
		c.Next()
	}
}

func bearerIdentity(header string, key []byte) (userID, email string, err error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", "", errBadToken
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return "", "", errBadToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errBadToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", "", errBadToken
	}

	email, _ = claims["email"].(string)
	return sub, email, nil
}
