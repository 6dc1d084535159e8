package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/sbt-vault/engine/pkg/logger"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestMain(m *testing.M) {
	_, _ = logger.Init("error", "console")
	os.Exit(m.Run())
}

func TestLocalStoreUploadAndServe(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://cdn.test/storage/", []string{"proofs"})
	require.NoError(t, err)

	obj, err := s.Upload(context.Background(), "proofs", "u1/a.png", pngHeader, "image/png")
	require.NoError(t, err)
	require.Equal(t, "proofs/u1/a.png", obj.Ref())
	require.Equal(t, "http://cdn.test/storage/proofs/u1/a.png", obj.URL)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proofs/u1/a.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, pngHeader, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proofs/", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLocalStoreRejectsUnknownBucketAndTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://cdn.test", []string{"proofs"})
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "missing", "a.png", pngHeader, "image/png")
	require.True(t, appErr.IsCode(err, appErr.CodeNotFound))

	_, err = s.Upload(context.Background(), "proofs", "../escape.png", pngHeader, "image/png")
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	_, err = NewLocalStore(t.TempDir(), "http://cdn.test", []string{"../bad"})
	require.Error(t, err)
}

type flakyStore struct {
	failing map[string]bool
	calls   []string
}

func (f *flakyStore) Upload(_ context.Context, bucket, name string, _ []byte, ct string) (Object, error) {
	f.calls = append(f.calls, bucket)
	if f.failing[bucket] {
		return Object{}, errors.New("bucket offline")
	}
	return Object{Bucket: bucket, Name: name, URL: f.PublicURL(bucket, name), ContentType: ct}, nil
}

func (f *flakyStore) PublicURL(bucket, name string) string { return "http://x/" + bucket + "/" + name }

func TestUploadWithFallback(t *testing.T) {
	ctx := context.Background()

	f := &flakyStore{failing: map[string]bool{"proofs": true}}
	obj, err := UploadWithFallback(ctx, f, []string{"proofs", "payment_proofs"}, "u/x.png", pngHeader, "image/png")
	require.NoError(t, err)
	require.Equal(t, "payment_proofs", obj.Bucket)
	require.Equal(t, []string{"proofs", "payment_proofs"}, f.calls)

	f = &flakyStore{failing: map[string]bool{"proofs": true, "payment_proofs": true}}
	_, err = UploadWithFallback(ctx, f, []string{"proofs", "payment_proofs"}, "u/x.png", pngHeader, "image/png")
	require.True(t, appErr.IsCode(err, appErr.CodeUnavailable))
}

func TestDetectImageAndObjectName(t *testing.T) {
	ct, ext, err := DetectImage(pngHeader)
	require.NoError(t, err)
	require.Equal(t, "image/png", ct)
	require.Equal(t, "png", ext)

	_, _, err = DetectImage([]byte("%PDF-1.7"))
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	_, _, err = DetectImage(nil)
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	name := ObjectName("user-1", "png")
	require.True(t, strings.HasPrefix(name, "user-1/"))
	require.True(t, strings.HasSuffix(name, ".png"))
	require.NotEqual(t, name, ObjectName("user-1", "png"))
}
