package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("username"))
	})
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	secret := []byte("s3cret")
	r := newRouter(secret)

	tok, err := IssueToken(secret, "kasia", "user", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec := get(r, tok); rec.Code != http.StatusOK || rec.Body.String() != "kasia" {
		t.Fatalf("expected 200 kasia got %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(r, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", rec.Code)
	}
	other, _ := IssueToken([]byte("other"), "kasia", "", time.Hour)
	if rec := get(r, other); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature got %d", rec.Code)
	}
	expired, _ := IssueToken(secret, "kasia", "", -time.Minute)
	if rec := get(r, expired); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token got %d", rec.Code)
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken(nil, "x", "", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
