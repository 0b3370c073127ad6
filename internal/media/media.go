// Package media stores case photos and returns their public URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUpstream wraps failures of the backing object store.
var ErrUpstream = errors.New("object storage failure")

// Uploader persists a photo and returns the URL it is served from.
type Uploader interface {
	Store(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/gif":  ".gif",
}

// ObjectKey builds a date-partitioned key such as cases/2024/05/01/A000001/<uuid>.jpg.
func ObjectKey(kind, caseID, contentType string, now time.Time) string {
	ext := extensions[contentType]
	if ext == "" {
		ext = ".bin"
	}
	if caseID == "" {
		caseID = "pending"
	}
	return path.Join(kind, now.UTC().Format("2006/01/02"), caseID, uuid.NewString()+ext)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUpstream, err)
}
