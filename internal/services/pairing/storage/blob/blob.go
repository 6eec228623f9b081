// Package blob stores original and spoofed image files.
package blob

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	apperrors "github.com/louisbranch/checkpointsync/internal/platform/errors"
)

// Key prefixes for the two kinds of stored images.
const (
	KindOriginal = "original"
	KindSpoofed  = "spoofed"
)

// ErrNotFound reports a missing blob.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "file not found")

// Info describes a stored blob.
type Info struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Store reads and writes blobs addressed by slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// Open returns the blob's content; the caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, Info, error)
}

// Key builds the storage key of an image file.
func Key(kind, checkpoint, filename string) string {
	return path.Join(kind, checkpoint, filename)
}

// CleanKey normalizes key and rejects keys that escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "file key is required")
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", apperrors.New(apperrors.CodeInvalidArgument, "file key must not contain dot segments")
		}
	}
	if strings.Contains(key, `\`) {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "file key must not contain backslashes")
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "file key is required")
	}
	return cleaned, nil
}

// ContentType guesses the content type of key from its extension.
func ContentType(key string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(key))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
