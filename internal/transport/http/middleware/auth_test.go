package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testKey = "middleware-test-secret-32-chars!!"

func init() {
	gin.SetMode(gin.TestMode)
}

type seenIdentity struct {
	userID string
	email  string
}

// identityEcho builds an engine whose protected handler copies out whatever
// identity Auth planted in the context.
func identityEcho() (*gin.Engine, *seenIdentity) {
	seen := &seenIdentity{}
	r := gin.New()
	r.GET("/protected", middleware.Auth([]byte(testKey)), func(c *gin.Context) {
		seen.userID = c.GetString("userID")
		seen.email = c.GetString("email")
		c.Status(http.StatusOK)
	})
	return r, seen
}

func signToken(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return s
}

func getProtected(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_RejectsBadCredentials(t *testing.T) {
	expired := signToken(t, testKey, jwt.MapClaims{
		"sub": "user-1",
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, "different-key-that-is-32-chars!!", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noSubject := signToken(t, testKey, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none-alg jwt: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"non-bearer scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong signing key", "Bearer " + wrongKey},
		{"no sub claim", "Bearer " + noSubject},
		{"alg none", "Bearer " + unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, seen := identityEcho()
			if w := getProtected(r, tt.header); w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if seen.userID != "" {
				t.Errorf("userID leaked into context: %q", seen.userID)
			}
		})
	}
}

func TestAuth_ValidToken_SetsIdentity(t *testing.T) {
	tok := signToken(t, testKey, jwt.MapClaims{
		"sub":   "user-abc",
		"email": "abc@example.com",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	r, seen := identityEcho()
	w := getProtected(r, "Bearer "+tok)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen.userID != "user-abc" {
		t.Errorf("userID = %q, want %q", seen.userID, "user-abc")
	}
	if seen.email != "abc@example.com" {
		t.Errorf("email = %q, want %q", seen.email, "abc@example.com")
	}
}

func TestAuth_TokenWithoutEmail_StillPasses(t *testing.T) {
	tok := signToken(t, testKey, jwt.MapClaims{
		"sub": "user-abc",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	r, seen := identityEcho()
	w := getProtected(r, "Bearer "+tok)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen.userID != "user-abc" {
		t.Errorf("userID = %q, want %q", seen.userID, "user-abc")
	}
	if seen.email != "" {
		t.Errorf("email = %q, want empty", seen.email)
	}
}
