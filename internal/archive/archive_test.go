package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested")
	a, err := New(context.Background(), Config{Driver: "dir", Dir: root})
	require.NoError(t, err)

	loc, err := a.Store(context.Background(), "report.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "report.html"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))

	_, err = a.Store(context.Background(), "../escape.html", "", nil)
	assert.Error(t, err)
}

func TestUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "ftp"})
	assert.Error(t, err)
}

func TestS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestS3Store(t *testing.T) {
	var (
		mu          sync.Mutex
		gotPath     string
		gotBody     string
		gotType     string
		gotAuthSeen bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPut {
			gotPath = r.URL.Path
			gotBody = string(body)
			gotType = r.Header.Get("Content-Type")
			gotAuthSeen = r.Header.Get("Authorization") != ""
		}
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewS3(context.Background(), S3Config{
		Bucket:          "reports",
		Prefix:          "daily",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	require.NoError(t, err)

	loc, err := a.Store(context.Background(), "r.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/daily/r.txt", loc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/reports/daily/r.txt", gotPath)
	assert.Equal(t, "hello", gotBody)
	assert.Equal(t, "text/plain", gotType)
	assert.True(t, gotAuthSeen)
}
