package supabase

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"odpbot/internal/httpx"
	"odpbot/internal/storage"
)

// Storage uploads photos to a Supabase Storage bucket over its REST API
type Storage struct {
	baseURL string
	key     string
	bucket  string
	client  *httpx.Client
	loc     *time.Location
	logger  *zap.Logger
}

// NewStorage creates a Supabase blob store for bucket
func NewStorage(baseURL, key, bucket string, client *httpx.Client, loc *time.Location, logger *zap.Logger) *Storage {
	if loc == nil {
		loc = time.UTC
	}
	return &Storage{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		bucket:  bucket,
		client:  client,
		loc:     loc,
		logger:  logger,
	}
}

// UploadPhoto stores data under a unique object name and returns its public URL
func (s *Storage) UploadPhoto(ctx context.Context, data []byte, filenameHint string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filenameHint))
	if ext == "" {
		ext = ".jpg"
	}
	name := fmt.Sprintf("%s-%s%s", time.Now().In(s.loc).Format("20060102150405"), uuid.NewString(), ext)
	objectPath := url.PathEscape(s.bucket) + "/" + url.PathEscape(name)

	_, err := s.client.Do(ctx, httpx.Request{
		Method: "POST",
		URL:    s.baseURL + "/storage/v1/object/" + objectPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + s.key,
			"apikey":        s.key,
			"Content-Type":  contentType(ext),
			"x-upsert":      "false",
		},
		Body: data,
	})
	if err != nil {
		s.logger.Error("Failed to upload photo",
			zap.String("bucket", s.bucket),
			zap.String("object", name),
			zap.Int("size", len(data)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", storage.ErrUploadFailed, err)
	}

	publicURL := s.baseURL + "/storage/v1/object/public/" + objectPath
	s.logger.Info("Uploaded photo",
		zap.String("object", name),
		zap.Int("size", len(data)),
	)
	return publicURL, nil
}

func contentType(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
