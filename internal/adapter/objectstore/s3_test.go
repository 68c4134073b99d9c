package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestS3Store(t *testing.T, endpoint string) *S3Store {
	t.Helper()
	store, err := NewS3Store(context.Background(), Options{
		Bucket:          "runhook-test",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		PresignExpiry:   15 * time.Minute,
	})
	require.NoError(t, err)
	return store
}

func TestPresignPut(t *testing.T) {
	store := newTestS3Store(t, "http://127.0.0.1:9000")

	url, err := store.PresignPut(context.Background(), "u1/artifact/ws/abc/archive.tar.gz", "application/gzip")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:9000/runhook-test/u1/artifact/ws/abc/archive.tar.gz?"), url)
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=900")
}

func TestExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case "/runhook-test/present":
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
		case "/runhook-test/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	store := newTestS3Store(t, server.URL)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Exists(ctx, "forbidden")
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runhook-test/u1/manifest.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":1,"files":[]}`))
	}))
	defer server.Close()

	store := newTestS3Store(t, server.URL)
	body, err := store.Get(context.Background(), "u1/manifest.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"files":[]}`, string(body))
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), Options{})
	assert.Error(t, err)
}
