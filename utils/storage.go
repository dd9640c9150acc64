// kapchan/utils/storage.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// LocalStorage implements models.StorageService on local disk. Files
// live under Root in the layout files/<post_id>/<name> and
// thumbnails/<post_id>/<name>.
type LocalStorage struct {
	Root string
}

func (ls *LocalStorage) Save(location, name string, data []byte, contentType string) error {
	dir := filepath.Join(ls.Root, filepath.FromSlash(location))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create storage directory %s: %w", dir, err)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}

func (ls *LocalStorage) Remove(location, name string) error {
	fullPath := filepath.Join(ls.Root, filepath.FromSlash(location), name)
	err := os.Remove(fullPath)
	if os.IsNotExist(err) {
		return nil
	}
	// Drop the now-empty per-post directory as well; best effort.
	if err == nil {
		_ = os.Remove(filepath.Dir(fullPath))
	}
	return err
}

func (ls *LocalStorage) Open(location, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(ls.Root, filepath.FromSlash(location), name))
}

// S3Storage implements models.StorageService for S3-compatible object
// storage. Object keys are "<location>/<name>".
type S3Storage struct {
	Client     *minio.Client
	BucketName string
}

func NewS3Storage(endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*S3Storage, error) {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := minioClient.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	return &S3Storage{Client: minioClient, BucketName: bucket}, nil
}

func (s3 *S3Storage) key(location, name string) string {
	return location + "/" + name
}

func (s3 *S3Storage) Save(location, name string, data []byte, contentType string) error {
	ctx := context.Background()
	reader := bytes.NewReader(data)
	_, err := s3.Client.PutObject(ctx, s3.BucketName, s3.key(location, name), reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s3 *S3Storage) Remove(location, name string) error {
	ctx := context.Background()
	return s3.Client.RemoveObject(ctx, s3.BucketName, s3.key(location, name), minio.RemoveObjectOptions{})
}

func (s3 *S3Storage) Open(location, name string) (io.ReadCloser, error) {
	ctx := context.Background()
	obj, err := s3.Client.GetObject(ctx, s3.BucketName, s3.key(location, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}
