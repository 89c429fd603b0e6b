package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// ListBucketObjects 列出存储桶中指定前缀下的所有对象
func ListBucketObjects(prefix string) ([]ObjectInfo, *BucketStats, error) {
	c := GetClient()
	if c == nil {
		return nil, nil, fmt.Errorf("MinIO 客户端未初始化")
	}

	ctx := context.Background()
	stats := &BucketStats{}
	var objects []ObjectInfo

	objectCh := c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}

		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}

		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}

	return objects, stats, nil
}

// PrintBucketStatus 打印存储桶状态（音频对象概览）
func PrintBucketStatus(prefix string) error {
	objects, stats, err := ListBucketObjects(prefix)
	if err != nil {
		return err
	}

	log.Printf("\n📊 存储桶状态报告: %s", GetClient().bucket)
	log.Printf("🔍 前缀过滤: %s", prefix)
	log.Printf("📝 总文件数: %d", stats.TotalObjects)
	log.Printf("💾 总存储大小: %s", formatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		log.Printf("🕒 最后更新时间: %s", stats.LastModified.Format("2006-01-02 15:04:05"))
	}
	log.Printf("\n📋 文件列表:")

	for _, obj := range objects {
		log.Printf("  ├─ %s (%s, %s)", obj.Key, formatSize(obj.Size),
			obj.LastModified.Format("2006-01-02 15:04:05"))
	}

	return nil
}

// formatSize 格式化文件大小
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
