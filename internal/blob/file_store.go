package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const tempPrefix = ".upload-"

var (
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signature expired")
)

// FileStore keeps objects on the local filesystem under baseDir/<bucket>/<path>.
// Content types are not persisted; readers derive them from the file extension.
type FileStore struct {
	baseDir    string
	signingKey []byte
	publicURL  string
	now        func() time.Time
}

// NewFileStore builds a filesystem store. publicURL is the externally reachable
// server root used in signed URLs (e.g. http://localhost:8090).
func NewFileStore(baseDir string, signingKey []byte, publicURL string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("blob base dir required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob base dir: %w", err)
	}
	return &FileStore{
		baseDir:    baseDir,
		signingKey: signingKey,
		publicURL:  strings.TrimRight(publicURL, "/"),
		now:        time.Now,
	}, nil
}

func (s *FileStore) resolve(bucket, objectPath string) (string, string, error) {
	cleaned, err := cleanKey(bucket, objectPath)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(s.baseDir, bucket, filepath.FromSlash(cleaned)), nil
}

// Put writes data to a temp file and links it into place; link fails if the
// destination exists, so an existing object is never replaced.
func (s *FileStore) Put(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return wrap("put", bucket, objectPath, err)
	}
	cleaned, dest, err := s.resolve(bucket, objectPath)
	if err != nil {
		return wrap("put", bucket, objectPath, err)
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrap("put", bucket, cleaned, err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return wrap("put", bucket, cleaned, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return wrap("put", bucket, cleaned, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return wrap("put", bucket, cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		return wrap("put", bucket, cleaned, err)
	}
	if err := os.Link(tmpName, dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return wrap("put", bucket, cleaned, ErrExists)
		}
		return wrap("put", bucket, cleaned, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	cleaned, dest, err := s.resolve(bucket, objectPath)
	if err != nil {
		return nil, wrap("get", bucket, objectPath, err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wrap("get", bucket, cleaned, ErrNotFound)
		}
		return nil, wrap("get", bucket, cleaned, err)
	}
	return data, nil
}

// Delete removes the object and prunes directories left empty. Missing objects are ignored.
func (s *FileStore) Delete(ctx context.Context, bucket, objectPath string) error {
	cleaned, dest, err := s.resolve(bucket, objectPath)
	if err != nil {
		return wrap("delete", bucket, objectPath, err)
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap("delete", bucket, cleaned, err)
	}
	root := filepath.Join(s.baseDir, bucket)
	for dir := filepath.Dir(dest); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		// fails on non-empty dirs, which ends the walk
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// List walks the bucket and returns objects whose path starts with prefix.
func (s *FileStore) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	root := filepath.Join(s.baseDir, bucket)
	var objects []Object
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Bucket: bucket, Path: rel, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, wrap("list", bucket, prefix, err)
	}
	return objects, nil
}

// SignedURL returns a time-limited download URL served by the API's /blobs route.
func (s *FileStore) SignedURL(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	cleaned, _, err := s.resolve(bucket, objectPath)
	if err != nil {
		return "", wrap("sign", bucket, objectPath, err)
	}
	if len(s.signingKey) == 0 {
		return "", wrap("sign", bucket, cleaned, errors.New("signing key not configured"))
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(bucket, cleaned, expires))
	escaped := (&url.URL{Path: "/blobs/" + bucket + "/" + cleaned}).EscapedPath()
	return s.publicURL + escaped + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedURL.
func (s *FileStore) Verify(bucket, objectPath, expires, sig string) error {
	cleaned, err := cleanKey(bucket, strings.TrimPrefix(objectPath, "/"))
	if err != nil {
		return err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	want := s.sign(bucket, cleaned, exp)
	if len(s.signingKey) == 0 || !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > exp {
		return ErrSignatureExpired
	}
	return nil
}

func (s *FileStore) sign(bucket, objectPath string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	fmt.Fprintf(mac, "%s/%s\n%d", bucket, objectPath, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
