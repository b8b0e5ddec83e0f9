// Package blob persists raw document bytes in an object store keyed by bucket and path.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrExists is returned by Put when an object already occupies the path.
	ErrExists = errors.New("object already exists")
	// ErrNotFound is returned when no object exists at the path.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidPath rejects empty, absolute or escaping object paths.
	ErrInvalidPath = errors.New("invalid object path")
)

// StorageError describes a failed blob operation.
type StorageError struct {
	Op     string
	Bucket string
	Path   string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("blob %s %s/%s: %v", e.Op, e.Bucket, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Object is a listing entry.
type Object struct {
	Bucket  string
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is the object storage contract used by the ingestion pipeline.
type Store interface {
	Put(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, objectPath string) ([]byte, error)
	Delete(ctx context.Context, bucket, objectPath string) error
	SignedURL(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error)
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
}

func wrap(op, bucket, objectPath string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Bucket: bucket, Path: objectPath, Err: err}
}

// cleanKey validates bucket and path and returns the normalized path.
func cleanKey(bucket, objectPath string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", ErrInvalidPath
	}
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, `\`) {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(objectPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}
