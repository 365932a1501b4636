package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shelfhub/shelfhub/internal/auth"
	"github.com/shelfhub/shelfhub/internal/domain/user"
	"github.com/shelfhub/shelfhub/internal/http/handlers"
	"github.com/shelfhub/shelfhub/internal/http/middlewares"
	"github.com/shelfhub/shelfhub/internal/repo/postgres"
	"github.com/shelfhub/shelfhub/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newUUID() string {
	return uuid.NewString()
}

// fake repository implementing handlers.UsersRepository

type fakeUsersRepo struct {
	createFn       func(ctx context.Context, req user.CreateUserRequest, passwordHash string) (user.User, error)
	getFn          func(ctx context.Context, id string) (user.User, error)
	listFn         func(ctx context.Context, filter user.ListFilter) ([]user.User, int, error)
	updateFn       func(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error)
	updateRoleFn   func(ctx context.Context, id string, role user.Role) error
	updateStatusFn func(ctx context.Context, id string, status user.Status) error
	softDeleteFn   func(ctx context.Context, id string) error
	updateHashFn   func(ctx context.Context, id string, passwordHash string) error
	statsFn        func(ctx context.Context) (user.Stats, error)
}

func (f *fakeUsersRepo) Create(ctx context.Context, req user.CreateUserRequest, passwordHash string) (user.User, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req, passwordHash)
	}
	return user.User{}, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return user.User{}, nil
}

func (f *fakeUsersRepo) List(ctx context.Context, filter user.ListFilter) ([]user.User, int, error) {
	if f.listFn != nil {
		return f.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (f *fakeUsersRepo) Update(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, req)
	}
	return user.User{}, nil
}

func (f *fakeUsersRepo) UpdateRole(ctx context.Context, id string, role user.Role) error {
	if f.updateRoleFn != nil {
		return f.updateRoleFn(ctx, id, role)
	}
	return nil
}

func (f *fakeUsersRepo) UpdateStatus(ctx context.Context, id string, status user.Status) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeUsersRepo) SoftDelete(ctx context.Context, id string) error {
	if f.softDeleteFn != nil {
		return f.softDeleteFn(ctx, id)
	}
	return nil
}

func (f *fakeUsersRepo) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	if f.updateHashFn != nil {
		return f.updateHashFn(ctx, id, passwordHash)
	}
	return nil
}

func (f *fakeUsersRepo) Stats(ctx context.Context) (user.Stats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx)
	}
	return user.Stats{}, nil
}

// identity plumbing: run the real RequireAuth with a fake verifier so the
// handlers read identity exactly the way production does

type fakeVerifier struct {
	claims *auth.Claims
}

func (f *fakeVerifier) VerifyAccessToken(string) (*auth.Claims, error) {
	if f.claims == nil {
		return nil, auth.ErrInvalidToken
	}
	return f.claims, nil
}

func authedRouter(claims *auth.Claims, register func(r gin.IRoutes)) *gin.Engine {
	r := gin.New()

	mw := middlewares.NewAuthMiddleware(&fakeVerifier{claims: claims})
	group := r.Group("/", mw.RequireAuth())
	register(group)

	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var buf *bytes.Buffer
	if body == "" {
		buf = bytes.NewBuffer(nil)
	} else {
		buf = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

func adminClaims(userID string) *auth.Claims {
	return &auth.Claims{UserID: userID, Email: "admin@example.com", Role: "admin"}
}

func TestCreateUser(t *testing.T) {
	validBody := `{
		"email": "alice@example.com",
		"password": "longenough",
		"fullName": "Alice Smith",
		"role": "student"
	}`

	tests := []struct {
		name       string
		body       string
		repoSetUp  func(*fakeUsersRepo)
		wantStatus int
	}{
		{
			name: "success",
			body: validBody,
			repoSetUp: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, req user.CreateUserRequest, hash string) (user.User, error) {
					if hash == req.Password {
						t.Fatal("handler must hash the password before the repo sees it")
					}
					return user.NewFromCreateRequest(req, hash), nil
				}
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "duplicate email",
			body: validBody,
			repoSetUp: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, req user.CreateUserRequest, hash string) (user.User, error) {
					return user.User{}, postgres.ErrEmailAlreadyUsed
				}
			},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "invalid role",
			body:       `{"email":"a@b.co","password":"longenough","fullName":"A B","role":"superuser"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "short password",
			body:       `{"email":"a@b.co","password":"short","fullName":"A B","role":"student"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}
			if tc.repoSetUp != nil {
				tc.repoSetUp(repo)
			}

			h := handlers.NewUsersHandler(repo, nil, nil)

			r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
				g.POST("/admin/users", h.Create)
			})

			w := doJSON(t, r, http.MethodPost, "/admin/users", tc.body)

			if w.Code != tc.wantStatus {
				t.Fatalf("got %d want %d, body=%s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

func TestUpdateUser(t *testing.T) {
	targetID := newUUID()

	tests := []struct {
		name       string
		path       string
		body       string
		repoSetUp  func(*fakeUsersRepo)
		wantStatus int
	}{
		{
			name: "success",
			path: "/admin/users/" + targetID,
			body: `{"fullName":"New Name"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.updateFn = func(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
					if req.FullName == nil || *req.FullName != "New Name" {
						t.Fatalf("patch not forwarded: %+v", req)
					}
					return user.User{ID: id, FullName: *req.FullName}, nil
				}
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty patch",
			path:       "/admin/users/" + targetID,
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad uuid",
			path:       "/admin/users/not-a-uuid",
			body:       `{"fullName":"x y"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "not found",
			path: "/admin/users/" + targetID,
			body: `{"fullName":"New Name"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.updateFn = func(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
					return user.User{}, user.ErrNotFound
				}
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "email conflict",
			path: "/admin/users/" + targetID,
			body: `{"email":"taken@example.com"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.updateFn = func(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
					return user.User{}, postgres.ErrEmailAlreadyUsed
				}
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}
			if tc.repoSetUp != nil {
				tc.repoSetUp(repo)
			}

			h := handlers.NewUsersHandler(repo, nil, nil)

			r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
				g.PATCH("/admin/users/:id", h.Update)
			})

			w := doJSON(t, r, http.MethodPatch, tc.path, tc.body)

			if w.Code != tc.wantStatus {
				t.Fatalf("got %d want %d, body=%s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

func TestDeleteUserIsSoft(t *testing.T) {
	targetID := newUUID()

	var softDeleted string

	repo := &fakeUsersRepo{
		softDeleteFn: func(ctx context.Context, id string) error {
			softDeleted = id
			return nil
		},
	}

	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.DELETE("/admin/users/:id", h.Delete)
	})

	w := doJSON(t, r, http.MethodDelete, "/admin/users/"+targetID, "")

	if w.Code != http.StatusNoContent {
		t.Fatalf("got %d want %d, body=%s", w.Code, http.StatusNoContent, w.Body.String())
	}

	if softDeleted != targetID {
		t.Fatalf("SoftDelete not called for %s", targetID)
	}
}

func TestDeleteUserSelfIsRefused(t *testing.T) {
	actingID := newUUID()

	called := false
	repo := &fakeUsersRepo{
		softDeleteFn: func(ctx context.Context, id string) error {
			called = true
			return nil
		},
	}

	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(adminClaims(actingID), func(g gin.IRoutes) {
		g.DELETE("/admin/users/:id", h.Delete)
	})

	w := doJSON(t, r, http.MethodDelete, "/admin/users/"+actingID, "")

	if w.Code != http.StatusConflict {
		t.Fatalf("got %d want %d", w.Code, http.StatusConflict)
	}

	if called {
		t.Fatal("repo must not be touched when refusing self-delete")
	}
}

func TestUpdateStatusSelfSuspensionRefused(t *testing.T) {
	actingID := newUUID()

	repo := &fakeUsersRepo{}
	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(adminClaims(actingID), func(g gin.IRoutes) {
		g.PUT("/admin/users/:id/status", h.UpdateStatus)
	})

	w := doJSON(t, r, http.MethodPut, "/admin/users/"+actingID+"/status", `{"status":"suspended"}`)

	if w.Code != http.StatusConflict {
		t.Fatalf("got %d want %d, body=%s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestUpdateStatusRejectsInactive(t *testing.T) {
	repo := &fakeUsersRepo{}
	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.PUT("/admin/users/:id/status", h.UpdateStatus)
	})

	// inactive is only reachable through DELETE
	w := doJSON(t, r, http.MethodPut, "/admin/users/"+newUUID()+"/status", `{"status":"inactive"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestListUsersFilters(t *testing.T) {
	repo := &fakeUsersRepo{
		listFn: func(ctx context.Context, filter user.ListFilter) ([]user.User, int, error) {
			if filter.Role == nil || *filter.Role != user.RoleStudent {
				t.Fatalf("role filter not forwarded: %+v", filter)
			}
			if filter.Query == nil || *filter.Query != "ali" {
				t.Fatalf("query filter not forwarded: %+v", filter)
			}
			return []user.User{{ID: newUUID()}}, 42, nil
		},
	}

	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.GET("/admin/users", h.List)
	})

	w := doJSON(t, r, http.MethodGet, "/admin/users?role=student&query=ali", "")

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Total int `json:"total"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Total != 42 || resp.Count != 1 {
		t.Fatalf("unexpected page meta: %+v", resp)
	}
}

func TestListUsersRejectsInactiveFilter(t *testing.T) {
	h := handlers.NewUsersHandler(&fakeUsersRepo{}, nil, nil)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.GET("/admin/users", h.List)
	})

	w := doJSON(t, r, http.MethodGet, "/admin/users?status=inactive", "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d want %d", w.Code, http.StatusBadRequest)
	}
}

func TestChangePassword(t *testing.T) {
	actingID := newUUID()

	currentHash, err := security.HashPassword("old-password")
	if err != nil {
		t.Fatalf("hash setup: %v", err)
	}

	t.Run("wrong current password leaves hash untouched", func(t *testing.T) {
		updated := false

		repo := &fakeUsersRepo{
			getFn: func(ctx context.Context, id string) (user.User, error) {
				return user.User{ID: id, PasswordHash: currentHash}, nil
			},
			updateHashFn: func(ctx context.Context, id, hash string) error {
				updated = true
				return nil
			},
		}

		h := handlers.NewUsersHandler(repo, nil, nil)

		r := authedRouter(&auth.Claims{UserID: actingID, Email: "x@y.z", Role: "student"}, func(g gin.IRoutes) {
			g.PUT("/users/me/password", h.ChangePassword)
		})

		w := doJSON(t, r, http.MethodPut, "/users/me/password",
			`{"currentPassword":"guess","newPassword":"brand-new-pass"}`)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("got %d want %d, body=%s", w.Code, http.StatusUnauthorized, w.Body.String())
		}

		if updated {
			t.Fatal("hash must not change on a wrong current password")
		}
	})

	t.Run("success stores a new bcrypt hash", func(t *testing.T) {
		var storedHash string

		repo := &fakeUsersRepo{
			getFn: func(ctx context.Context, id string) (user.User, error) {
				return user.User{ID: id, PasswordHash: currentHash}, nil
			},
			updateHashFn: func(ctx context.Context, id, hash string) error {
				storedHash = hash
				return nil
			},
		}

		h := handlers.NewUsersHandler(repo, nil, nil)

		r := authedRouter(&auth.Claims{UserID: actingID, Email: "x@y.z", Role: "student"}, func(g gin.IRoutes) {
			g.PUT("/users/me/password", h.ChangePassword)
		})

		w := doJSON(t, r, http.MethodPut, "/users/me/password",
			`{"currentPassword":"old-password","newPassword":"brand-new-pass"}`)

		if w.Code != http.StatusNoContent {
			t.Fatalf("got %d want %d, body=%s", w.Code, http.StatusNoContent, w.Body.String())
		}

		if storedHash == "" || storedHash == currentHash {
			t.Fatal("a fresh hash should have been stored")
		}

		if err := security.CheckPassword(storedHash, "brand-new-pass"); err != nil {
			t.Fatalf("stored hash does not verify the new password: %v", err)
		}
	})
}

func TestUpdateMeRejectsEmailChange(t *testing.T) {
	repo := &fakeUsersRepo{}
	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(&auth.Claims{UserID: newUUID(), Email: "x@y.z", Role: "student"}, func(g gin.IRoutes) {
		g.PATCH("/users/me", h.UpdateMe)
	})

	w := doJSON(t, r, http.MethodPatch, "/users/me", `{"email":"new@example.com"}`)

	if w.Code != http.StatusForbidden {
		t.Fatalf("got %d want %d, body=%s", w.Code, http.StatusForbidden, w.Body.String())
	}
}

func TestUpdateMeTargetsSessionUser(t *testing.T) {
	actingID := newUUID()

	repo := &fakeUsersRepo{
		updateFn: func(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
			if id != actingID {
				t.Fatalf("update targeted %s, want session user %s", id, actingID)
			}
			return user.User{ID: id}, nil
		},
	}

	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(&auth.Claims{UserID: actingID, Email: "x@y.z", Role: "student"}, func(g gin.IRoutes) {
		g.PATCH("/users/me", h.UpdateMe)
	})

	w := doJSON(t, r, http.MethodPatch, "/users/me", `{"phone":"555-0100"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestStatsFallsBackToRepoWithoutCache(t *testing.T) {
	repo := &fakeUsersRepo{
		statsFn: func(ctx context.Context) (user.Stats, error) {
			return user.Stats{
				TotalUsers: 7,
				ByRole:     map[user.Role]int{user.RoleStudent: 5, user.RoleAdmin: 2},
				Suspended:  1,
			}, nil
		},
	}

	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.GET("/admin/users/stats", h.Stats)
	})

	w := doJSON(t, r, http.MethodGet, "/admin/users/stats", "")

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, body=%s", w.Code, w.Body.String())
	}

	var stats user.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if stats.TotalUsers != 7 || stats.Suspended != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestStatsRepoFailure(t *testing.T) {
	repo := &fakeUsersRepo{
		statsFn: func(ctx context.Context) (user.Stats, error) {
			return user.Stats{}, errors.New("boom")
		},
	}

	h := handlers.NewUsersHandler(repo, nil, nil)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.GET("/admin/users/stats", h.Stats)
	})

	w := doJSON(t, r, http.MethodGet, "/admin/users/stats", "")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("got %d want %d", w.Code, http.StatusInternalServerError)
	}
}

// cached stats path

type fakeStatsCache struct {
	stored map[string][]byte
}

func (f *fakeStatsCache) GetJSON(ctx context.Context, key string, out any) error {
	b, ok := f.stored[key]
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(b, out)
}

func (f *fakeStatsCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[key] = b
	return nil
}

func (f *fakeStatsCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.stored, k)
	}
	return nil
}

func TestStatsCachePopulatedAndInvalidated(t *testing.T) {
	calls := 0

	repo := &fakeUsersRepo{
		statsFn: func(ctx context.Context) (user.Stats, error) {
			calls++
			return user.Stats{TotalUsers: calls}, nil
		},
	}

	cache := &fakeStatsCache{}
	h := handlers.NewUsersHandler(repo, cache, nil)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.GET("/admin/users/stats", h.Stats)
		g.DELETE("/admin/users/:id", h.Delete)
	})

	// first read populates, second read is served from cache
	doJSON(t, r, http.MethodGet, "/admin/users/stats", "")
	doJSON(t, r, http.MethodGet, "/admin/users/stats", "")

	if calls != 1 {
		t.Fatalf("expected one repo call, got %d", calls)
	}

	// a member write busts the cache
	doJSON(t, r, http.MethodDelete, "/admin/users/"+newUUID(), "")
	doJSON(t, r, http.MethodGet, "/admin/users/stats", "")

	if calls != 2 {
		t.Fatalf("expected recomputation after invalidation, got %d calls", calls)
	}
}

// session revocation on suspend / soft delete

type fakeSessionRevoker struct {
	revoked []string
	err     error
}

func (f *fakeSessionRevoker) RevokeAllForUser(ctx context.Context, userID string) error {
	f.revoked = append(f.revoked, userID)
	return f.err
}

func TestSuspendRevokesSessions(t *testing.T) {
	targetID := newUUID()
	sessions := &fakeSessionRevoker{}

	h := handlers.NewUsersHandler(&fakeUsersRepo{}, nil, sessions)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.PUT("/admin/users/:id/status", h.UpdateStatus)
	})

	w := doJSON(t, r, http.MethodPut, "/admin/users/"+targetID+"/status", `{"status":"suspended"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, body=%s", w.Code, w.Body.String())
	}

	if len(sessions.revoked) != 1 || sessions.revoked[0] != targetID {
		t.Fatalf("expected one revocation for %s, got %v", targetID, sessions.revoked)
	}

	// reactivation leaves sessions alone
	w = doJSON(t, r, http.MethodPut, "/admin/users/"+targetID+"/status", `{"status":"active"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, body=%s", w.Code, w.Body.String())
	}

	if len(sessions.revoked) != 1 {
		t.Fatalf("reactivation must not revoke, got %v", sessions.revoked)
	}
}

func TestDeleteRevokesSessions(t *testing.T) {
	targetID := newUUID()
	sessions := &fakeSessionRevoker{}

	h := handlers.NewUsersHandler(&fakeUsersRepo{}, nil, sessions)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.DELETE("/admin/users/:id", h.Delete)
	})

	w := doJSON(t, r, http.MethodDelete, "/admin/users/"+targetID, "")

	if w.Code != http.StatusNoContent {
		t.Fatalf("got %d, body=%s", w.Code, w.Body.String())
	}

	if len(sessions.revoked) != 1 || sessions.revoked[0] != targetID {
		t.Fatalf("expected one revocation for %s, got %v", targetID, sessions.revoked)
	}
}

func TestSuspendSucceedsWhenRevocationFails(t *testing.T) {
	sessions := &fakeSessionRevoker{err: errors.New("refresh store down")}

	h := handlers.NewUsersHandler(&fakeUsersRepo{}, nil, sessions)

	r := authedRouter(adminClaims(newUUID()), func(g gin.IRoutes) {
		g.PUT("/admin/users/:id/status", h.UpdateStatus)
	})

	w := doJSON(t, r, http.MethodPut, "/admin/users/"+newUUID()+"/status", `{"status":"suspended"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("revocation failure must not fail the suspend, got %d", w.Code)
	}
}
