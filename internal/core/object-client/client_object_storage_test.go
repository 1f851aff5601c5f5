package objectclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3ClientValidates(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3Client(ctx, Options{})
	assert.ErrorContains(t, err, "AWS_REGION")

	_, err = NewS3Client(ctx, Options{Region: "us-east-2", AccessKey: "only-key"})
	assert.Error(t, err)
}

func TestGetFileFromCompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kb-bucket/org-1/handbook.txt" {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		body := []byte("employee handbook")
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "17")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, err := NewS3Client(context.Background(), Options{
		AccessKey: "test",
		SecretKey: "test",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
	})
	require.NoError(t, err)

	data, err := c.GetFile(context.Background(), "kb-bucket", "org-1/handbook.txt")
	require.NoError(t, err)
	assert.Equal(t, "employee handbook", string(data))

	_, err = c.GetFile(context.Background(), "kb-bucket", "missing.txt")
	assert.Error(t, err)

	_, err = c.GetFile(context.Background(), "", "key")
	assert.Error(t, err)
}
