// Package blob stores rendered portal artifacts in S3-compatible object
// storage and hands back the stable URLs recorded on documents.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the URL base for returned artifact URLs. Empty
	// means path-style URLs derived from the endpoint.
	PublicURL string
}

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		publicURL = strings.TrimRight(client.EndpointURL().String(), "/")
	}

	return &Store{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

// EnsureBucket creates the configured bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload stores a rendered PDF under a key derived from the owning
// business, the document and the file name. The key is deterministic,
// so uploading identical bytes again overwrites in place and returns
// the same URL.
func (s *Store) Upload(ctx context.Context, ownerID, documentID, fileName string, pdf []byte) (string, error) {
	key := objectKey(ownerID, documentID, fileName)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(pdf), int64(len(pdf)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("upload pdf %s: %w", key, err)
	}
	return s.publicURL + "/" + s.bucket + "/" + key, nil
}

func objectKey(ownerID, documentID, fileName string) string {
	return ownerID + "/" + documentID + "/" + fileName
}
