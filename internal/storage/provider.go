package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error
}

var unsafeKeyChars = regexp.MustCompile(`[^\w.-]+`)

// UploadKey builds a unique object key for an uploaded file, keeping a
// sanitized version of the client supplied name for readability.
func UploadKey(filename string, now time.Time) string {
	name := unsafeKeyChars.ReplaceAllString(filepath.Base(filename), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "image.jpg"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return fmt.Sprintf("%d-%s", now.UnixNano(), name)
}

// SplitRef splits an image reference of the form "<bucket>/<key>".
func SplitRef(ref string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(ref, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object reference '%s'", ref)
	}
	return bucket, key, nil
}
