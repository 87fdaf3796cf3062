package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

// ---- fakes ----

type fakeUserRepo struct {
	upsert func(ctx context.Context, id, email string) error
}

func (f *fakeUserRepo) Upsert(ctx context.Context, id, email string) error {
	return f.upsert(ctx, id, email)
}

func (f *fakeUserRepo) GetByID(context.Context, string) (*domain.User, error) {
	return nil, domain.ErrUserNotFound
}

func (f *fakeUserRepo) Update(context.Context, *domain.User) error { return nil }

func (f *fakeUserRepo) ListDigestCandidates(context.Context) ([]*domain.User, error) {
	return nil, nil
}

// setIdentity stands in for Auth: it plants the claims EnsureUser reads.
func setIdentity(userID, email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("email", email)
		c.Next()
	}
}

func TestEnsureUser_UpsertsSubjectAndEmail(t *testing.T) {
	var gotID, gotEmail string
	repo := &fakeUserRepo{
		upsert: func(_ context.Context, id, email string) error {
			gotID, gotEmail = id, email
			return nil
		},
	}

	r := gin.New()
	r.GET("/x", setIdentity("user-1", "u1@example.com"), middleware.EnsureUser(repo, slog.Default()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if gotID != "user-1" {
		t.Errorf("upserted id = %q, want %q", gotID, "user-1")
	}
	if gotEmail != "u1@example.com" {
		t.Errorf("upserted email = %q, want %q", gotEmail, "u1@example.com")
	}
}

func TestEnsureUser_UpsertFails_Returns500(t *testing.T) {
	repo := &fakeUserRepo{
		upsert: func(context.Context, string, string) error {
			return errors.New("db down")
		},
	}

	handlerReached := false
	r := gin.New()
	r.GET("/x", setIdentity("user-1", ""), middleware.EnsureUser(repo, slog.Default()), func(c *gin.Context) {
		handlerReached = true
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if handlerReached {
		t.Error("handler ran despite upsert failure")
	}
}
