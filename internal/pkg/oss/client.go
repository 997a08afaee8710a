package oss

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/docgen_server/config"
)

const patchContentType = "text/x-patch"

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// PatchObjectKey patches/<job>/<branch>.patch，分支名中的 / 换成 _
func PatchObjectKey(jobID int64, branch string) string {
	return fmt.Sprintf("patches/%d/%s.patch", jobID, strings.ReplaceAll(branch, "/", "_"))
}

// UploadPatch 上传 format-patch 产物
func (c *Client) UploadPatch(jobID int64, branch string, data []byte) (string, error) {
	objectKey := PatchObjectKey(jobID, branch)

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType(patchContentType))
	if err != nil {
		return "", fmt.Errorf("failed to upload patch: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// UploadPatchWithRetry 最多尝试 3 次，间隔递增
func (c *Client) UploadPatchWithRetry(jobID int64, branch string, data []byte) (string, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * time.Second)
		}
		url, err := c.UploadPatch(jobID, branch, data)
		if err == nil {
			return url, nil
		}
		lastErr = err
		log.Printf("Upload patch for job %d failed (attempt %d): %v", jobID, i+1, err)
	}
	return "", lastErr
}

// Delete 删除文件
func (c *Client) Delete(objectKey string) error {
	if err := c.bucket.DeleteObject(objectKey); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL 获取文件访问 URL
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, c.client.Config.Endpoint, objectKey)
}

// GetSignedURL 生成带签名的临时下载地址（默认 1 小时）
func (c *Client) GetSignedURL(objectKey string, expireSeconds ...int64) (string, error) {
	expire := int64(3600)
	if len(expireSeconds) > 0 && expireSeconds[0] > 0 {
		expire = expireSeconds[0]
	}

	signedURL, err := c.bucket.SignURL(objectKey, oss.HTTPGet, expire)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return signedURL, nil
}
