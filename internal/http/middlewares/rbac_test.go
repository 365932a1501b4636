package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/shelfhub/shelfhub/internal/auth"
	"github.com/shelfhub/shelfhub/internal/http/middlewares"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	claims *auth.Claims
}

func (f *fakeVerifier) VerifyAccessToken(string) (*auth.Claims, error) {
	if f.claims == nil {
		return nil, auth.ErrInvalidToken
	}
	return f.claims, nil
}

func gatedRouter(claims *auth.Claims, allowed ...string) *gin.Engine {
	r := gin.New()

	mw := middlewares.NewAuthMiddleware(&fakeVerifier{claims: claims})

	r.GET("/gated", mw.RequireAuth(), mw.RequireRole(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	return r
}

func get(r *gin.Engine, withToken bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/gated", nil)
	if withToken {
		req.Header.Set("Authorization", "Bearer token")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		claims     *auth.Claims
		allowed    []string
		withToken  bool
		wantStatus int
	}{
		{
			name:       "allowed role passes",
			claims:     &auth.Claims{UserID: "u1", Role: "librarian"},
			allowed:    []string{"librarian", "admin"},
			withToken:  true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "second allowed role passes",
			claims:     &auth.Claims{UserID: "u1", Role: "admin"},
			allowed:    []string{"librarian", "admin"},
			withToken:  true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong role is forbidden",
			claims:     &auth.Claims{UserID: "u1", Role: "student"},
			allowed:    []string{"librarian", "admin"},
			withToken:  true,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing token is unauthorized",
			claims:     &auth.Claims{UserID: "u1", Role: "admin"},
			allowed:    []string{"admin"},
			withToken:  false,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token is unauthorized",
			claims:     nil,
			allowed:    []string{"admin"},
			withToken:  true,
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := gatedRouter(tc.claims, tc.allowed...)

			w := get(r, tc.withToken)

			if w.Code != tc.wantStatus {
				t.Fatalf("got %d want %d, body=%s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRequireAuthStashesIdentity(t *testing.T) {
	claims := &auth.Claims{UserID: "u1", Email: "a@b.co", Role: "faculty"}

	r := gin.New()
	mw := middlewares.NewAuthMiddleware(&fakeVerifier{claims: claims})

	r.GET("/whoami", mw.RequireAuth(), func(c *gin.Context) {
		id, _ := middlewares.UserIDFromContext(c)
		role, _ := middlewares.RoleFromContext(c)
		email, _ := middlewares.EmailFromContext(c)

		c.JSON(http.StatusOK, gin.H{"id": id, "role": role, "email": email})
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer token")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{`"id":"u1"`, `"role":"faculty"`, `"email":"a@b.co"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %s missing %s", body, want)
		}
	}
}
