package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "middleware-test-secret"

func newTestRouter(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinZapLogger(log))
	protected := r.Group("/", JWTAuth(NewHMACVerifier(testSecret), log))
	protected.GET("/whoami", func(c *gin.Context) {
		id, ok := UserIDFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestJWTAuth(t *testing.T) {
	router := newTestRouter(zap.NewNop())
	userID := uuid.New()

	valid, err := GenerateTestJWT(userID, testSecret, time.Minute)
	require.NoError(t, err)
	expired, err := GenerateTestJWT(userID, testSecret, -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateTestJWT(userID, "other-secret", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, userID.String()},
		{"missing header", "", http.StatusUnauthorized, "Authorization header missing"},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, "Invalid Authorization header format"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "Token has expired"},
		{"wrong signature", "Bearer " + foreign, http.StatusUnauthorized, "Token is invalid"},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, "Token is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestGinZapLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	router := newTestRouter(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	entries := logs.FilterMessage("Client error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, 1, logs.Len(), "health checks are not logged")
}
