package handler

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/docgen_server/internal/pkg/response"
)

func TestProvidersHandler_List(t *testing.T) {
	tc := setupServices(t)
	router := gin.New()
	router.GET("/providers", NewProvidersHandler(tc.JobService).List)

	w := performRequest(router, "GET", "/providers", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	providers := dataMap(t, resp)["providers"].([]interface{})
	require.Len(t, providers, 1)
	openai := providers[0].(map[string]interface{})
	assert.Equal(t, "openai", openai["name"])
	assert.Len(t, openai["models"], 1)
	assert.NotContains(t, w.Body.String(), "sk-secret")
}
