package minio_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperta-labs/bloghound/internal/adapter/storage/minio"
)

// fakeS3 implements just enough of the S3 HTTP surface for minio-go's
// bucket-existence check, PutObject, RemoveObject and ListObjectsV2 calls
// to succeed against an httptest server instead of a real MinIO instance.
func fakeS3(t *testing.T, bucket string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/"+bucket+"/":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/"+bucket+"/"):
			w.Header().Set("ETag", `"etag123"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/"+bucket+"/"):
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/"+bucket+"/" && r.URL.Query().Get("list-type") == "2":
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>` + bucket + `</Name>
  <Prefix>blog-1/</Prefix>
  <KeyCount>1</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>blog-1/avatar.jpg</Key>
    <LastModified>2024-01-01T00:00:00.000Z</LastModified>
    <ETag>&quot;abc&quot;</ETag>
    <Size>100</Size>
    <StorageClass>STANDARD</StorageClass>
  </Contents>
</ListBucketResult>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server, bucket string) *minio.Client {
	t.Helper()
	endpoint := strings.TrimPrefix(srv.URL, "http://")
	client, err := minio.New(context.Background(), endpoint, "access", "secret", bucket, false)
	require.NoError(t, err)
	return client
}

func TestPutReturnsObjectURL(t *testing.T) {
	t.Parallel()

	srv := fakeS3(t, "bloghound-media")
	defer srv.Close()
	client := newTestClient(t, srv, "bloghound-media")

	url, err := client.Put(context.Background(), "blog-1/avatar.jpg", []byte("fake-image-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Contains(t, url, "bloghound-media/blog-1/avatar.jpg")
}

func TestDeleteRemovesObject(t *testing.T) {
	t.Parallel()

	srv := fakeS3(t, "bloghound-media")
	defer srv.Close()
	client := newTestClient(t, srv, "bloghound-media")

	require.NoError(t, client.Delete(context.Background(), "blog-1/avatar.jpg"))
}

func TestListReturnsKeysUnderPrefix(t *testing.T) {
	t.Parallel()

	srv := fakeS3(t, "bloghound-media")
	defer srv.Close()
	client := newTestClient(t, srv, "bloghound-media")

	keys, err := client.List(context.Background(), "blog-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"blog-1/avatar.jpg"}, keys)
}
