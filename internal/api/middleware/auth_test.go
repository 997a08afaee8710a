package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/docgen_server/internal/pkg/jwt"
	"github.com/qs3c/docgen_server/internal/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "test-secret-key-for-middleware"

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func authRouter(t *testing.T) *gin.Engine {
	router := gin.New()
	router.Use(Auth(testJWTSecret))
	router.GET("/test", func(c *gin.Context) {
		ownerID, ok := GetOwnerID(c)
		assert.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"owner_id": ownerID})
	})
	return router
}

func TestAuth_Success(t *testing.T) {
	router := authRouter(t)

	token, err := jwt.GenerateToken(123, testJWTSecret, 24)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"owner_id":123}`, w.Body.String())
}

func TestAuth_Rejected(t *testing.T) {
	router := authRouter(t)

	wrongSecret, err := jwt.GenerateToken(123, "other-secret", 24)
	require.NoError(t, err)
	expired, err := jwt.GenerateToken(123, testJWTSecret, -1)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "请提供认证信息"},
		{"no bearer prefix", "Token abc", "认证格式错误"},
		{"empty bearer", "Bearer ", "认证格式错误"},
		{"garbage token", "Bearer not-a-jwt", "认证失败或已过期"},
		{"wrong secret", "Bearer " + wrongSecret, "认证失败或已过期"},
		{"expired", "Bearer " + expired, "认证失败或已过期"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			resp := parseResponse(t, w)
			assert.Equal(t, response.CodeAuthFailed, resp.Code)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)

	_, ok = BearerToken("abc.def")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer   ")
	assert.False(t, ok)
}

func TestGetOwnerID(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := GetOwnerID(c)
	assert.False(t, ok)

	c.Set(OwnerIDKey, "123")
	_, ok = GetOwnerID(c)
	assert.False(t, ok)

	c.Set(OwnerIDKey, int64(42))
	id, ok := GetOwnerID(c)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}
