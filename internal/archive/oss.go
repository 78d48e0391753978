// 本文件用于 OSS 上传封装
package archive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	sdk "github.com/aliyun/aliyun-oss-go-sdk/oss"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

// Uploader 把对象写入对象存储
type Uploader interface {
	Put(ctx context.Context, key string, data []byte) error
}

// OSSUploader 基于阿里云 OSS Bucket 的上传实现
type OSSUploader struct {
	bucket *sdk.Bucket
}

// NewOSSUploader 按配置创建 OSS 上传器
func NewOSSUploader(cfg *models.Config) (*OSSUploader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置为空")
	}
	logger.Info("初始化OSS客户端...")
	endpoint, err := normalizeOSSEndpoint(cfg.Endpoint, cfg.DisableSSL)
	if err != nil {
		return nil, err
	}
	client, err := sdk.New(endpoint, cfg.AK, cfg.SK)
	if err != nil {
		return nil, fmt.Errorf("创建OSS客户端失败: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("获取OSS Bucket失败: %w", err)
	}
	logger.Info("OSS客户端初始化成功: bucket=%s", cfg.Bucket)
	return &OSSUploader{bucket: bucket}, nil
}

// Put 上传对象并用 ETag 校验内容
func (u *OSSUploader) Put(ctx context.Context, key string, data []byte) error {
	if u == nil || u.bucket == nil {
		return fmt.Errorf("OSS Bucket未初始化")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var header http.Header
	err := u.bucket.PutObject(
		key,
		&contextReader{ctx: ctx, reader: bytes.NewReader(data)},
		sdk.ContentLength(int64(len(data))),
		sdk.ContentType("application/x-ndjson"),
		sdk.GetResponseHeader(&header),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("OSS上传失败: %w", err)
	}
	sum := md5.Sum(data)
	local := hex.EncodeToString(sum[:])
	if remote := normalizeETag(header.Get("ETag")); remote != "" && remote != local {
		return fmt.Errorf("OSS ETag校验失败: local=%s remote=%s", local, remote)
	}
	return nil
}

func normalizeETag(value string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(value), "\""))
}

// normalizeOSSEndpoint 补全 Endpoint 协议 disableSSL 时使用 http
func normalizeOSSEndpoint(endpoint string, disableSSL bool) (string, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return "", fmt.Errorf("OSS Endpoint不能为空")
	}
	parsed, err := url.Parse(trimmed)
	if err == nil && parsed.Scheme != "" && parsed.Host != "" {
		return trimmed, nil
	}
	parsed, err = url.Parse("//" + trimmed)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("无效的 OSS Endpoint: %s", endpoint)
	}
	scheme := "https"
	if disableSSL {
		scheme = "http"
	}
	return scheme + "://" + parsed.Host + strings.TrimSuffix(parsed.Path, "/"), nil
}

// contextReader 让上传过程响应上下文取消
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
