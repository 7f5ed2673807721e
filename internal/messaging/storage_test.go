package messaging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3UploadMedia(t *testing.T) {
	client := &fakeS3{}
	store := newS3Storage(client, "chat-media", "https://cdn.test", 1024)

	loc, err := store.UploadMedia(context.Background(), strings.NewReader("voice"), "note.webm", "audio/webm")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(loc, "https://cdn.test/messages/"))
	assert.True(t, strings.HasSuffix(loc, ".webm"))
	assert.Equal(t, "chat-media", aws.StringValue(client.input.Bucket))
	assert.Equal(t, "audio/webm", aws.StringValue(client.input.ContentType))
	assert.Equal(t, int64(5), aws.Int64Value(client.input.ContentLength))
	assert.Equal(t, []byte("voice"), client.body)
}

func TestS3UploadFailureIsTransient(t *testing.T) {
	store := newS3Storage(&fakeS3{err: errors.New("RequestTimeout")}, "b", "https://cdn.test", 1024)

	_, err := store.UploadMedia(context.Background(), strings.NewReader("x"), "a.png", "image/png")
	assert.True(t, IsTransient(err))
}

func TestLocalUploadMedia(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStorageService(dir, "http://localhost/uploads", 1024)

	loc, err := store.UploadMedia(context.Background(), bytes.NewReader([]byte("%PDF-1.7")), "report.pdf", "application/pdf")
	require.NoError(t, err)

	rel := strings.TrimPrefix(loc, "http://localhost/uploads/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
}

func TestUploadRejectsOversizedAndUnknownFiles(t *testing.T) {
	store := NewLocalStorageService(t.TempDir(), "http://localhost/uploads", 4)

	_, err := store.UploadMedia(context.Background(), strings.NewReader("12345"), "a.txt", "text/plain")
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = store.UploadMedia(context.Background(), strings.NewReader("1"), "a.exe", "application/x-msdownload")
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = store.UploadMedia(context.Background(), strings.NewReader("1234"), "a.txt", "text/plain")
	assert.NoError(t, err)
}
