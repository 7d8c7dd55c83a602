// Package blob stores uploaded media in S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is prepended to object keys when building public URLs.
	// When empty the endpoint and bucket are used directly.
	PublicBaseURL string
}

// Store uploads project media to a single bucket.
type Store struct {
	client *minio.Client
	cfg    Config
}

// NewStore connects to object storage and ensures the bucket exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Store{client: client, cfg: cfg}, nil
}

// MediaFolder maps a MIME type to its storage folder. Only images, video
// and audio are accepted.
func MediaFolder(contentType string) (string, bool) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "images", true
	case strings.HasPrefix(contentType, "video/"):
		return "videos", true
	case strings.HasPrefix(contentType, "audio/"):
		return "audio", true
	default:
		return "", false
	}
}

// MediaKey builds the object key for an uploaded media file.
func MediaKey(projectID, folder, filename string) string {
	return fmt.Sprintf("%s/%s/%s", projectID, folder, filename)
}

// ScreenshotKey builds the object key for a project screenshot.
func ScreenshotKey(projectID string, unixMilli int64) string {
	return fmt.Sprintf("%s/screenshots/%d.png", projectID, unixMilli)
}

// Put uploads data under the given key and returns its public URL.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the URL clients use to fetch an object.
func (s *Store) PublicURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket, key)
}
