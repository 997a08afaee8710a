package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// HeaderGitHub GitHub webhook 签名头
	HeaderGitHub = "X-Hub-Signature-256"
	prefix       = "sha256="
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrMissingSecret    = errors.New("webhook secret not configured")
	ErrMismatch         = errors.New("signature mismatch")
)

// Sign 计算 payload 的 HMAC-SHA256 签名，格式为 sha256=<hex>
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify 校验原始请求体签名，使用常量时间比较
func Verify(secret string, payload []byte, header string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, prefix) {
		return ErrMismatch
	}

	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrMismatch
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrMismatch
	}
	return nil
}
