// internal/messaging/storage.go

package messaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
)

var allowedContentTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"audio/webm", "audio/mpeg", "audio/wav", "audio/ogg", "audio/mp4",
	"application/pdf", "application/zip", "application/octet-stream",
	"text/plain",
}

type storageService struct {
	s3Client    s3iface.S3API
	bucketName  string
	cdnURL      string
	maxFileSize int64
}

// NewStorageService creates an S3-backed attachment store
func NewStorageService(awsSession *session.Session, bucketName, cdnURL string, maxFileSize int64) StorageService {
	return newS3Storage(s3.New(awsSession), bucketName, cdnURL, maxFileSize)
}

func newS3Storage(client s3iface.S3API, bucketName, cdnURL string, maxFileSize int64) *storageService {
	return &storageService{
		s3Client:    client,
		bucketName:  bucketName,
		cdnURL:      cdnURL,
		maxFileSize: maxFileSize,
	}
}

// UploadMedia uploads a file to S3 and returns its CDN location
func (s *storageService) UploadMedia(ctx context.Context, file io.Reader, filename string, contentType string) (string, error) {
	if !isAllowedType(contentType) {
		return "", Permanent("upload media", fmt.Errorf("file type %s not allowed", contentType))
	}

	buf, size, err := readLimited(file, s.maxFileSize)
	if err != nil {
		return "", err
	}

	key := objectKey(filename)
	_, err = s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		Metadata: map[string]*string{
			"uploaded-at": aws.String(time.Now().Format(time.RFC3339)),
			"file-name":   aws.String(filename),
		},
	})
	if err != nil {
		return "", Transient("upload media", err)
	}

	return fmt.Sprintf("%s/%s", s.cdnURL, key), nil
}

// localStorageService writes attachments under a directory served at baseURL
type localStorageService struct {
	uploadDir   string
	baseURL     string
	maxFileSize int64
}

// NewLocalStorageService stores attachments on the local filesystem
func NewLocalStorageService(uploadDir, baseURL string, maxFileSize int64) StorageService {
	return &localStorageService{
		uploadDir:   uploadDir,
		baseURL:     baseURL,
		maxFileSize: maxFileSize,
	}
}

func (s *localStorageService) UploadMedia(ctx context.Context, file io.Reader, filename string, contentType string) (string, error) {
	if !isAllowedType(contentType) {
		return "", Permanent("upload media", fmt.Errorf("file type %s not allowed", contentType))
	}

	buf, _, err := readLimited(file, s.maxFileSize)
	if err != nil {
		return "", err
	}

	key := objectKey(filename)
	path := filepath.Join(s.uploadDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", Permanent("upload media", fmt.Errorf("failed to create upload directory: %w", err))
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", Transient("upload media", fmt.Errorf("failed to save file: %w", err))
	}

	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

func objectKey(filename string) string {
	return fmt.Sprintf("messages/%s/%s%s",
		time.Now().Format("2006/01/02"),
		uuid.New().String(),
		filepath.Ext(filename),
	)
}

func readLimited(file io.Reader, maxFileSize int64) ([]byte, int64, error) {
	buf := new(bytes.Buffer)
	size, err := io.Copy(buf, io.LimitReader(file, maxFileSize+1))
	if err != nil {
		return nil, 0, Transient("upload media", fmt.Errorf("failed to read file: %w", err))
	}
	if size > maxFileSize {
		return nil, 0, Permanent("upload media", fmt.Errorf("file size exceeds maximum allowed size %d", maxFileSize))
	}
	return buf.Bytes(), size, nil
}

func isAllowedType(contentType string) bool {
	for _, allowed := range allowedContentTypes {
		if allowed == contentType {
			return true
		}
	}
	return false
}
