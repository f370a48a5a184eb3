package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tola_ledger/internal/service"

	"github.com/gin-gonic/gin"
)

func newTokens(t *testing.T) *service.TokenIssuer {
	t.Helper()
	tokens, err := service.NewTokenIssuer("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tokens
}

func do(r http.Handler, token string) int {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAndRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := newTokens(t)

	r := gin.New()
	r.GET("/x", JWT(tokens), RequireRole(service.RoleAdmin), func(c *gin.Context) {
		if c.GetInt64(KeyUserID) != 7 {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	admin, _ := tokens.Generate(7, service.RoleAdmin)
	user, _ := tokens.Generate(7, service.RoleUser)

	if code := do(r, ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code := do(r, "garbage"); code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}
	if code := do(r, user); code != http.StatusForbidden {
		t.Fatalf("user token: %d", code)
	}
	if code := do(r, admin); code != http.StatusOK {
		t.Fatalf("admin token: %d", code)
	}
}

func TestSimpleRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", SimpleRateLimit(2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		if code := do(r, ""); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	if code := do(r, ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestRateLimitWithoutRedisFallsBack(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimit(nil, "api", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	if code := do(r, ""); code != http.StatusOK {
		t.Fatalf("first: %d", code)
	}
	if code := do(r, ""); code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", code)
	}
}
