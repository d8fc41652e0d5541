package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/poem-crawler/internal/storage/gcs"
)

const bucketName = "test-bucket"

// newTestWriter points a storage client at an httptest server.
func newTestWriter(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.ObjectWriter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg.Bucket = bucketName
	w, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return w
}

// uploadRecorder answers object inserts and keeps the last request body.
type uploadRecorder struct {
	calls atomic.Int32
	body  atomic.Value
	path  atomic.Value
}

func (u *uploadRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.calls.Add(1)
	body, _ := io.ReadAll(r.Body)
	u.body.Store(string(body))
	u.path.Store(r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"bucket":%q,"name":"uploaded"}`, bucketName)
}

func (u *uploadRecorder) lastBody() string {
	s, _ := u.body.Load().(string)
	return s
}

func TestNewValidates(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: bucketName})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = gcs.New(client, gcs.Config{Bucket: "  "})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestObjectURI(t *testing.T) {
	assert.Equal(t, "gs://poems/su-shi/定风波/text.txt", gcs.ObjectURI("poems", "su-shi/定风波/text.txt"))
	assert.Equal(t, "gs://poems/a/text.txt", gcs.ObjectURI("poems", "/a/text.txt"))
}

func TestPutObjectWritesPoemAttributes(t *testing.T) {
	rec := &uploadRecorder{}
	w := newTestWriter(t, rec, gcs.Config{})

	name := "su-shi/水调歌头/text.txt"
	data := []byte("明月几时有\n把酒问青天\n")
	uri, err := w.PutObject(context.Background(), name, "", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, gcs.ObjectURI(bucketName, name), uri)

	require.EqualValues(t, 1, rec.calls.Load())
	assert.Contains(t, rec.path.Load(), "/b/"+bucketName+"/o")
	body := rec.lastBody()
	assert.Contains(t, body, string(data))
	assert.Contains(t, body, `"name":"`+name+`"`)
	assert.Contains(t, body, `"contentType":"`+gcs.DefaultContentType+`"`)
	assert.Contains(t, body, `"cacheControl":"`+gcs.DefaultCacheControl+`"`)
	assert.Contains(t, body, `"contentLanguage":"`+gcs.DefaultContentLanguage+`"`)
	assert.Contains(t, body, `"`+gcs.TitleMetadataKey+`":"水调歌头"`)
}

func TestPutObjectHonorsConfiguredAttributes(t *testing.T) {
	rec := &uploadRecorder{}
	w := newTestWriter(t, rec, gcs.Config{CacheControl: "no-store", ContentLanguage: "zh-Hant"})

	_, err := w.PutObject(context.Background(), "/定风波/text.txt", "text/plain", bytes.NewReader([]byte("莫听穿林打叶声\n")))
	require.NoError(t, err)

	body := rec.lastBody()
	assert.Contains(t, body, `"name":"定风波/text.txt"`)
	assert.Contains(t, body, `"contentType":"text/plain"`)
	assert.Contains(t, body, `"cacheControl":"no-store"`)
	assert.Contains(t, body, `"contentLanguage":"zh-Hant"`)
}

func TestPutObjectCanceledContext(t *testing.T) {
	rec := &uploadRecorder{}
	w := newTestWriter(t, rec, gcs.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.PutObject(ctx, "赤壁赋/text.txt", "", bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rec.calls.Load())
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	w := newTestWriter(t, handler, gcs.Config{})
	_, err := w.PutObject(context.Background(), "a/text.txt", "", bytes.NewReader([]byte("x")))
	require.ErrorContains(t, err, "a/text.txt")
}

func TestPutObjectEmptyName(t *testing.T) {
	w := newTestWriter(t, http.NotFoundHandler(), gcs.Config{})
	_, err := w.PutObject(context.Background(), " / ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
