package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omniboxd/omnibox/internal/auth"
)

func authTestRouter(secret string) (*gin.Engine, *uint64) {
	gin.SetMode(gin.TestMode)
	var seen uint64
	r := gin.New()
	r.Use(AuthRequired(secret))
	r.GET("/whoami", func(c *gin.Context) {
		v, _ := c.Get(UserIDKey)
		seen, _ = v.(uint64)
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestAuthRequired(t *testing.T) {
	const secret = "test-secret"
	r, seen := authTestRouter(secret)

	token, err := auth.SignJWT(42, secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if *seen != 42 {
		t.Fatalf("user id = %d, want 42", *seen)
	}
}

func TestAuthRequired_Rejections(t *testing.T) {
	const secret = "test-secret"
	r, _ := authTestRouter(secret)

	expired, err := auth.SignJWT(42, secret, -time.Minute)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	wrongKey, err := auth.SignJWT(42, "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("sign wrong key: %v", err)
	}

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"garbage token":  "Bearer not.a.jwt",
		"expired":        "Bearer " + expired,
		"wrong secret":   "Bearer " + wrongKey,
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, w.Code)
		}
	}
}
