package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/api/middleware"
	"github.com/qs3c/docgen_server/internal/model"
	"github.com/qs3c/docgen_server/internal/pkg/pubsub"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/pkg/response"
	"github.com/qs3c/docgen_server/internal/repository"
	"github.com/qs3c/docgen_server/internal/service"
	"github.com/qs3c/docgen_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testContext 本地测试上下文
type testContext struct {
	DB                *gorm.DB
	Queue             *queue.Queue
	JobService        *service.JobService
	RepositoryService *service.RepositoryService
	WebhookService    *service.WebhookService
}

func setupServices(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	client, _ := testutil.SetupTestRedis(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "openai", Type: "openai", APIKey: "sk-secret", Models: []config.ModelConfig{{Name: "gpt-4o-mini"}}},
		},
		Webhook: config.WebhookConfig{Secret: "whsec", Kind: model.KindReadme, Provider: "openai", Model: "gpt-4o-mini"},
	}
	cfg.Defaults()

	jobRepo := repository.NewJobRepository(db)
	repoRepo := repository.NewRepositoryRepository(db)
	jobQueue := queue.NewQueue(client, "test_jobs")
	jobService := service.NewJobService(jobRepo, repository.NewJobEventRepository(db), repoRepo, jobQueue, pubsub.NewPublisher(client), cfg)

	return &testContext{
		DB:                db,
		Queue:             jobQueue,
		JobService:        jobService,
		RepositoryService: service.NewRepositoryService(repoRepo),
		WebhookService:    service.NewWebhookService(jobService, repoRepo, &cfg.Webhook),
	}
}

// mockAuth 模拟认证中间件
func mockAuth(ownerID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.OwnerIDKey, ownerID)
		c.Next()
	}
}

func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return data
}
