package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	router := gin.New()
	router.GET("/test", handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) {
		Success(c, gin.H{"job_id": 42})
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "success", resp.Message)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(42), data["job_id"])
}

func TestSuccess_NilData(t *testing.T) {
	_, resp := serve(t, func(c *gin.Context) {
		Success(c, nil)
	})

	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Nil(t, resp.Data)
}

func TestSuccessWithMessage(t *testing.T) {
	_, resp := serve(t, func(c *gin.Context) {
		SuccessWithMessage(c, "已忽略", nil)
	})

	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "已忽略", resp.Message)
}

func TestSuccessPage(t *testing.T) {
	_, resp := serve(t, func(c *gin.Context) {
		SuccessPage(c, 100, 2, 10, []string{"a", "b", "c"})
	})

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(100), data["total"])
	assert.Equal(t, float64(2), data["page"])
	assert.Equal(t, float64(10), data["page_size"])

	items, ok := data["items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 3)
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name        string
		fn          func(*gin.Context, string)
		code        int
		defaultText string
	}{
		{name: "param", fn: ParamError, code: CodeParamError, defaultText: "参数错误"},
		{name: "auth", fn: AuthError, code: CodeAuthFailed, defaultText: "认证失败"},
		{name: "permission", fn: PermissionError, code: CodePermissionDenied, defaultText: "权限不足"},
		{name: "not found", fn: NotFoundError, code: CodeResourceNotFound, defaultText: "资源不存在"},
		{name: "terminal", fn: TerminalError, code: CodeJobTerminal, defaultText: "任务已结束"},
		{name: "conflict", fn: ConflictError, code: CodeConflict, defaultText: "操作冲突"},
		{name: "signature", fn: SignatureError, code: CodeSignatureInvalid, defaultText: "签名校验失败"},
		{name: "server", fn: ServerError, code: CodeServerError, defaultText: "服务器内部错误"},
	}

	for _, tt := range tests {
		t.Run(tt.name+" default message", func(t *testing.T) {
			w, resp := serve(t, func(c *gin.Context) { tt.fn(c, "") })

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.defaultText, resp.Message)
			assert.Nil(t, resp.Data)
		})

		t.Run(tt.name+" custom message", func(t *testing.T) {
			_, resp := serve(t, func(c *gin.Context) { tt.fn(c, "该仓库已有进行中的任务") })

			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, "该仓库已有进行中的任务", resp.Message)
		})
	}
}

func TestError_UnknownCode(t *testing.T) {
	_, resp := serve(t, func(c *gin.Context) {
		Error(c, 9999, "")
	})

	assert.Equal(t, 9999, resp.Code)
	assert.Empty(t, resp.Message)
}
