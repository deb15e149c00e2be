package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/codeclash/backend/internal/auth"
	"github.com/codeclash/backend/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func authedRouter(cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.GET("/me", RequireAuth(cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"playerId": PlayerID(c)})
	})
	return router
}

func getWithAuth(router *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret", TokenExpiryHours: 1}
	token, err := auth.GenerateToken(cfg, "p1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	w := getWithAuth(authedRouter(cfg), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["playerId"] != "p1" {
		t.Errorf("playerId = %q, want p1", body["playerId"])
	}
}

func TestRequireAuthRejectsMissingHeader(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret", TokenExpiryHours: 1}

	for _, header := range []string{"", "Bearer ", "token-without-scheme"} {
		w := getWithAuth(authedRouter(cfg), header)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, w.Code)
		}
	}
}

func TestRequireAuthRejectsForgedToken(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret", TokenExpiryHours: 1}
	forged, err := auth.GenerateToken(&config.Config{JWTSecret: "other", TokenExpiryHours: 1}, "p1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	w := getWithAuth(authedRouter(cfg), "Bearer "+forged)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["code"] != "AUTH_REQUIRED" {
		t.Errorf("code = %q, want AUTH_REQUIRED", body["code"])
	}
}

func TestPlayerIDWithoutAuth(t *testing.T) {
	router := gin.New()
	router.GET("/open", func(c *gin.Context) {
		c.String(http.StatusOK, PlayerID(c))
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	router.ServeHTTP(w, req)

	if w.Body.String() != "" {
		t.Errorf("unauthenticated PlayerID = %q, want empty", w.Body.String())
	}
}
