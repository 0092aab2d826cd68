package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	. "duraq/pkg/api/middleware"
	"duraq/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newJWTService(t *testing.T) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{SecretKey: "test-secret", Issuer: "duraq-test"})
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}
	return svc
}

type fakeKeyStore struct {
	keys map[string]*auth.APIKeyInfo
}

func (f *fakeKeyStore) ValidateKey(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	info, ok := f.keys[key]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return info, nil
}
func (f *fakeKeyStore) CreateKey(ctx context.Context, info auth.APIKeyInfo) (string, error) {
	return "", nil
}
func (f *fakeKeyStore) RevokeKey(ctx context.Context, keyID string) error { return nil }
func (f *fakeKeyStore) ListKeys(ctx context.Context, ownerID string) ([]auth.APIKeyInfo, error) {
	return nil, nil
}

func runWithAuth(config AuthConfig, req *http.Request) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(AuthMiddleware(config))
	router.GET("/*path", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_RejectsMissingCredentials(t *testing.T) {
	rec := runWithAuth(AuthConfig{JWTService: newJWTService(t)}, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_AcceptsValidBearerToken(t *testing.T) {
	jwtSvc := newJWTService(t)
	token, err := jwtSvc.GenerateToken("u1", "alice", auth.RoleOperator, "org1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set(AuthHeaderKey, "Bearer "+token)
	rec := runWithAuth(AuthConfig{JWTService: jwtSvc}, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_RejectsMalformedBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set(AuthHeaderKey, "Bearer not-a-real-token")
	rec := runWithAuth(AuthConfig{JWTService: newJWTService(t)}, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_AcceptsValidAPIKey(t *testing.T) {
	store := &fakeKeyStore{keys: map[string]*auth.APIKeyInfo{
		"valid-key": {ID: "k1", OwnerID: "u2", Role: auth.RoleViewer},
	}}
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set(APIKeyHeaderKey, "valid-key")
	rec := runWithAuth(AuthConfig{APIKeyStore: store}, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_RejectsUnknownAPIKey(t *testing.T) {
	store := &fakeKeyStore{keys: map[string]*auth.APIKeyInfo{}}
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set(APIKeyHeaderKey, "whatever")
	rec := runWithAuth(AuthConfig{APIKeyStore: store}, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_SkipPathsBypassAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := runWithAuth(AuthConfig{JWTService: newJWTService(t), SkipPaths: []string{"/healthz"}}, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_EnforcesMinimumLevel(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &auth.Claims{Role: auth.RoleViewer, UserID: "u3"})
		c.Next()
	})
	router.GET("/admin", RequireRole(auth.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for viewer hitting an admin-only route, got %d", rec.Code)
	}
}
