package middleware

import (
	"io"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/docgen_server/internal/pkg/response"
	"github.com/qs3c/docgen_server/internal/pkg/signature"
)

const (
	RawBodyKey = "rawBody"

	maxWebhookBody = 5 << 20
)

// Signature 校验 webhook 原始请求体的 HMAC 签名，通过后把原始请求体放入上下文
func Signature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil {
			response.ParamError(c, "读取请求体失败")
			c.Abort()
			return
		}
		if len(body) > maxWebhookBody {
			response.ParamError(c, "请求体过大")
			c.Abort()
			return
		}

		if err := signature.Verify(secret, body, c.GetHeader(signature.HeaderGitHub)); err != nil {
			log.Printf("Webhook from %s rejected: %v", c.ClientIP(), err)
			response.SignatureError(c, "")
			c.Abort()
			return
		}

		c.Set(RawBodyKey, body)
		c.Next()
	}
}

// GetRawBody 取出已验签的原始请求体
func GetRawBody(c *gin.Context) []byte {
	body, exists := c.Get(RawBodyKey)
	if !exists {
		return nil
	}
	b, _ := body.([]byte)
	return b
}
