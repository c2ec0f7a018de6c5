package publish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/testdeck/internal/engine"
	"github.com/alexisbeaulieu97/testdeck/internal/logger"
)

func TestResolveKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a/b", ResolveKey("a", "b"))
	require.Equal(t, "a/b", ResolveKey("/a/", "/b"))
	require.Equal(t, "b", ResolveKey("", "b"))
	require.Equal(t, "a", ResolveKey("a", ""))
}

func TestNormalizeProvider(t *testing.T) {
	t.Parallel()

	require.Equal(t, "s3", NormalizeProvider(" MinIO "))
	require.Equal(t, "s3", NormalizeProvider("aws"))
	require.Equal(t, "file", NormalizeProvider("dir"))
	require.Equal(t, "gcs", NormalizeProvider("gcs"))
}

func TestNewProviderValidates(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(context.Background(), Config{Bucket: "b"})
	require.ErrorContains(t, err, "provider is required")

	_, err = NewProvider(context.Background(), Config{Provider: "s3"})
	require.ErrorContains(t, err, "bucket is required")

	_, err = NewProvider(context.Background(), Config{Provider: "gcs", Bucket: "b"})
	require.ErrorContains(t, err, "unsupported")
}

func writeRunDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "20250101_120000")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "screenshot-cam-1.png"), []byte("png"), 0o644))
	return dir
}

func TestSinkPublishesToFileProvider(t *testing.T) {
	t.Parallel()

	bucket := filepath.Join(t.TempDir(), "bucket")
	provider, err := NewProvider(context.Background(), Config{Provider: "local", Bucket: bucket, Prefix: "reports"})
	require.NoError(t, err)
	defer provider.Close()

	run := &engine.Summary{ModuleID: "suites.smoke", ReportDir: writeRunDir(t)}
	sink := NewSink(provider, logger.Nop())
	require.Equal(t, "publish", sink.Name())
	require.NoError(t, sink.Complete(context.Background(), run))

	require.FileExists(t, filepath.Join(bucket, "reports", "suites.smoke", "20250101_120000", "results.json"))

	objects, err := provider.List(context.Background(), "suites.smoke")
	require.NoError(t, err)
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	require.Equal(t, []string{
		"reports/suites.smoke/20250101_120000/results.json",
		"reports/suites.smoke/20250101_120000/screenshot-cam-1.png",
	}, keys)
}

func TestSinkRequiresReportDir(t *testing.T) {
	t.Parallel()

	provider, err := NewProvider(context.Background(), Config{Provider: "file", Bucket: t.TempDir()})
	require.NoError(t, err)
	require.Error(t, NewSink(provider, nil).Complete(context.Background(), &engine.Summary{}))
}

func TestS3ProviderUploadsWithPathStyle(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	puts := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts[r.URL.Path] = string(body)
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider, err := NewProvider(context.Background(), Config{
		Provider:  "minio",
		Bucket:    "artifacts",
		Prefix:    "ci",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
		PathStyle: true,
	})
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "summary.txt")
	require.NoError(t, os.WriteFile(local, []byte("all good"), 0o644))

	info, err := provider.Upload(context.Background(), "suite/summary.txt", local)
	require.NoError(t, err)
	require.Equal(t, "ci/suite/summary.txt", info.Key)
	require.EqualValues(t, len("all good"), info.Size)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, puts, "/artifacts/ci/suite/summary.txt")
}
