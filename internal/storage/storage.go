// Package storage is a bucketed object store backed by the local filesystem.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Object describes a stored file.
type Object struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Ref is the bucket-qualified object reference persisted alongside URLs.
func (o Object) Ref() string { return o.Bucket + "/" + o.Name }

// Store uploads objects into named buckets and exposes them by public URL.
type Store interface {
	Upload(ctx context.Context, bucket, name string, data []byte, contentType string) (Object, error)
	PublicURL(bucket, name string) string
}

// LocalStore keeps each bucket as a directory under root.
type LocalStore struct {
	root      string
	publicURL string
	buckets   map[string]struct{}
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates the bucket directories that do not exist yet.
func NewLocalStore(root, publicURL string, buckets []string) (*LocalStore, error) {
	s := &LocalStore{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
		buckets:   make(map[string]struct{}, len(buckets)),
	}
	for _, b := range buckets {
		if b == "" || strings.ContainsAny(b, `/\.`) {
			return nil, fmt.Errorf("invalid bucket name %q", b)
		}
		if err := os.MkdirAll(filepath.Join(root, b), 0o755); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", b, err)
		}
		s.buckets[b] = struct{}{}
	}
	return s, nil
}

func (s *LocalStore) Upload(ctx context.Context, bucket, name string, data []byte, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if _, ok := s.buckets[bucket]; !ok {
		return Object{}, appErr.New(appErr.CodeNotFound, "bucket "+bucket+" not found")
	}
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != name {
		return Object{}, appErr.New(appErr.CodeInvalid, "invalid object name")
	}

	dst := filepath.Join(s.root, bucket, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, appErr.Wrap(err, appErr.CodeUnavailable, "prepare object path failed")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return Object{}, appErr.Wrap(err, appErr.CodeUnavailable, "create object failed")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Object{}, appErr.Wrap(err, appErr.CodeUnavailable, "write object failed")
	}
	if err := tmp.Close(); err != nil {
		return Object{}, appErr.Wrap(err, appErr.CodeUnavailable, "write object failed")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Object{}, appErr.Wrap(err, appErr.CodeUnavailable, "commit object failed")
	}

	logger.L().Info("object stored", zap.String("bucket", bucket), zap.String("name", clean), zap.Int("size", len(data)))
	return Object{
		Bucket:      bucket,
		Name:        clean,
		URL:         s.PublicURL(bucket, clean),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func (s *LocalStore) PublicURL(bucket, name string) string {
	return s.publicURL + "/" + bucket + "/" + name
}

// Handler serves stored objects at /{bucket}/{name}. Directory listings are refused.
func (s *LocalStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || strings.Contains(r.URL.Path, "/.") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// UploadWithFallback tries each bucket in order and returns the first success.
// It fails with unavailable only once every bucket has been tried.
func UploadWithFallback(ctx context.Context, s Store, buckets []string, name string, data []byte, contentType string) (Object, error) {
	var lastErr error
	for _, b := range buckets {
		obj, err := s.Upload(ctx, b, name, data, contentType)
		if err == nil {
			return obj, nil
		}
		logger.L().Warn("upload failed, trying next bucket", zap.String("bucket", b), zap.Error(err))
		lastErr = err
	}
	return Object{}, appErr.Wrap(lastErr, appErr.CodeUnavailable, "storage unavailable")
}

// ObjectName builds a collision-free name scoped to its owner.
func ObjectName(owner, ext string) string {
	return owner + "/" + ksuid.New().String() + "." + ext
}

var imageTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// DetectImage sniffs data and returns its content type and file extension.
func DetectImage(data []byte) (contentType, ext string, err error) {
	if len(data) == 0 {
		return "", "", appErr.New(appErr.CodeInvalid, "file is empty")
	}
	contentType = http.DetectContentType(data)
	ext, ok := imageTypes[contentType]
	if !ok {
		return "", "", appErr.New(appErr.CodeInvalid, "file must be an image").WithMeta("content_type", contentType)
	}
	return contentType, ext, nil
}
