package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"EchoMark/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Blob store folders.
const (
	AudioFolder  = "audio_files"
	DetectFolder = "detect_audio_files"
)

// Client 封装了 MinIO 客户端和存储桶配置
type Client struct {
	client    *minio.Client
	bucket    string
	publicURL string
	useSSL    bool
	endpoint  string
}

var defaultClient *Client

// InitMinio 初始化全局 MinIO 客户端
func InitMinio(cfg *config.Config) error {
	log.Printf("正在连接 MinIO 服务器...")
	log.Printf("Endpoint: %s", cfg.MinioEndpoint)
	log.Printf("Bucket: %s", cfg.MinioBucket)
	if len(cfg.MinioAccessKey) > 4 {
		log.Printf("AccessKey: %s...", cfg.MinioAccessKey[:4])
	}

	mc, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 检查存储桶是否存在，不存在则创建
	exists, err := mc.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		err = mc.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		})
		if err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		log.Printf("✅ 成功创建存储桶: %s", cfg.MinioBucket)
	} else {
		log.Printf("✅ 存储桶已存在: %s", cfg.MinioBucket)
	}

	defaultClient = &Client{
		client:    mc,
		bucket:    cfg.MinioBucket,
		publicURL: strings.TrimSuffix(cfg.MinioPublicURL, "/"),
		useSSL:    cfg.MinioUseSSL,
		endpoint:  cfg.MinioEndpoint,
	}
	log.Println("✅ MinIO 客户端初始化成功！")
	return nil
}

// GetClient 获取全局 MinIO 客户端实例
func GetClient() *Client {
	return defaultClient
}

// contentTypeForFormat 根据音频格式返回Content-Type
func contentTypeForFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "mp4", "m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// UploadAudio streams audio bytes into the bucket under folder and
// returns the durable URL plus the object key the URL maps back to.
// Object names are random so concurrent uploads of the same file never
// collide.
func (c *Client) UploadAudio(ctx context.Context, r io.Reader, size int64, folder, format string) (string, string, error) {
	objectKey := fmt.Sprintf("%s/%s.%s", folder, uuid.NewString(), strings.ToLower(format))

	_, err := c.client.PutObject(ctx, c.bucket, objectKey, r, size, minio.PutObjectOptions{
		ContentType: contentTypeForFormat(format),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload object %s: %w", objectKey, err)
	}

	return c.PublicURL(objectKey), objectKey, nil
}

// Remove deletes an object by its key.
func (c *Client) Remove(ctx context.Context, objectKey string) error {
	err := c.client.RemoveObject(ctx, c.bucket, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove object %s: %w", objectKey, err)
	}
	return nil
}

// PublicURL returns the durable URL for an object key.
func (c *Client) PublicURL(objectKey string) string {
	if c.publicURL != "" {
		return c.publicURL + "/" + objectKey
	}
	scheme := "http"
	if c.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.endpoint, c.bucket, objectKey)
}

// PresignedDownloadURL 生成带过期时间的下载链接
func (c *Client) PresignedDownloadURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// ObjectKeyFromURL derives the object key back from a URL produced by
// PublicURL, for deletes. Returns an error when the URL does not point
// into this bucket.
func (c *Client) ObjectKeyFromURL(rawURL string) (string, error) {
	if c.publicURL != "" && strings.HasPrefix(rawURL, c.publicURL+"/") {
		return strings.TrimPrefix(rawURL, c.publicURL+"/"), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid object URL %s: %w", rawURL, err)
	}
	prefix := "/" + c.bucket + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", fmt.Errorf("URL %s does not point into bucket %s", rawURL, c.bucket)
	}
	return strings.TrimPrefix(u.Path, prefix), nil
}
