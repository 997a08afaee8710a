package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/docgen_server/internal/pkg/jwt"
	"github.com/qs3c/docgen_server/internal/pkg/response"
)

const (
	OwnerIDKey = "ownerID"
)

// Auth JWT 认证中间件，令牌中的用户即任务和仓库的 owner
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		tokenString, ok := BearerToken(authHeader)
		if !ok {
			response.AuthError(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		c.Set(OwnerIDKey, claims.OwnerID)
		c.Next()
	}
}

// BearerToken 从 Authorization 头中取出 Bearer 令牌
func BearerToken(header string) (string, bool) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// GetOwnerID 从上下文获取当前 owner
func GetOwnerID(c *gin.Context) (int64, bool) {
	ownerID, exists := c.Get(OwnerIDKey)
	if !exists {
		return 0, false
	}
	id, ok := ownerID.(int64)
	return id, ok
}
