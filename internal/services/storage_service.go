// internal/services/storage_service.go
package services

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/opengrants/grants-backend/internal/apperrors"
	"github.com/opengrants/grants-backend/internal/config"
	"github.com/opengrants/grants-backend/internal/utils"
)

// StorageService keeps metadata documents in S3, addressed by their
// content hash. The ledger stores only the ref; the document itself
// lives here. Without AWS credentials it falls back to an in-memory
// store for local development.
type StorageService struct {
	s3Client *s3.S3
	config   *config.Config

	mu    sync.RWMutex
	local map[string][]byte
}

type StoredMetadata struct {
	Ref         string `json:"ref"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

func NewStorageService(cfg *config.Config) (*StorageService, error) {
	if cfg.AWS.AccessKeyID == "" {
		// Local development store
		return &StorageService{config: cfg, local: make(map[string][]byte)}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   cfg,
	}, nil
}

const maxMetadataSize = 1 * 1024 * 1024 // 1MB

// PutMetadata stores a metadata document and returns its content ref.
// Storing the same bytes twice yields the same ref and is a no-op.
func (s *StorageService) PutMetadata(data []byte, contentType string) (*StoredMetadata, error) {
	if len(data) == 0 {
		return nil, apperrors.Parameter("metadata document is empty")
	}
	if len(data) > maxMetadataSize {
		return nil, apperrors.Newf(apperrors.KindParameter,
			"metadata document exceeds %d bytes", maxMetadataSize)
	}
	if contentType == "" {
		contentType = "application/json"
	}

	ref := utils.ContentRef(data)
	key := s.objectKey(ref)

	if s.s3Client == nil {
		s.mu.Lock()
		s.local[key] = append([]byte(nil), data...)
		s.mu.Unlock()
		return &StoredMetadata{Ref: ref, Size: int64(len(data)), ContentType: contentType}, nil
	}

	_, err := s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(s.config.AWS.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExternal, "failed to store metadata", err)
	}

	return &StoredMetadata{Ref: ref, Size: int64(len(data)), ContentType: contentType}, nil
}

// GetMetadata fetches the document behind a content ref.
func (s *StorageService) GetMetadata(ref string) ([]byte, error) {
	if !utils.IsValidContentRef(ref) {
		return nil, apperrors.Parameter("invalid content ref")
	}
	key := s.objectKey(ref)

	if s.s3Client == nil {
		s.mu.RLock()
		data, ok := s.local[key]
		s.mu.RUnlock()
		if !ok {
			return nil, apperrors.NotFound("metadata document")
		}
		return data, nil
	}

	out, err := s.s3Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, apperrors.NotFound("metadata document")
		}
		return nil, apperrors.Wrap(apperrors.KindExternal, "failed to fetch metadata", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExternal, "failed to read metadata body", err)
	}
	return data, nil
}

// MetadataURL returns a public URL for a stored document, through
// CloudFront when configured.
func (s *StorageService) MetadataURL(ref string) string {
	key := s.objectKey(ref)
	if s.config.AWS.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", s.config.AWS.CloudFrontURL, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
		s.config.AWS.S3Bucket, s.config.AWS.Region, key)
}

// objectKey maps "sha256:<hex>" onto a bucket path, sharded by the
// first two hex chars to keep listings manageable.
func (s *StorageService) objectKey(ref string) string {
	hex := strings.TrimPrefix(ref, "sha256:")
	if len(hex) < 2 {
		return "metadata/" + hex
	}
	return fmt.Sprintf("metadata/%s/%s", hex[:2], hex)
}
