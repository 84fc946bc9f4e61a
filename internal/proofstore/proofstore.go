// Package proofstore keeps the binary proof files (transfer screenshots,
// receipts) referenced by agreements.
package proofstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxFileSize bounds a single proof upload.
const MaxFileSize = 10 << 20

var (
	ErrEmptyFile    = errors.New("proof file is empty")
	ErrFileTooLarge = fmt.Errorf("proof file exceeds %d bytes", MaxFileSize)
	ErrUnknownURL   = errors.New("url does not belong to this store")
)

// Upload is a proof file as received from a client.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Validate checks the upload size.
func (u Upload) Validate() error {
	if len(u.Data) == 0 {
		return ErrEmptyFile
	}
	if len(u.Data) > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

// Store saves proof files and returns a URL for each.
type Store interface {
	Put(ctx context.Context, prefix string, up Upload) (string, error)
	Delete(ctx context.Context, url string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectName builds a unique object name under prefix that keeps a readable
// form of the original file name.
func ObjectName(prefix, fileName string) string {
	base := unsafeChars.ReplaceAllString(filepath.Base(fileName), "_")
	if base == "" || base == "." || base == "_" {
		base = "proof"
	}
	return path.Join(prefix, uuid.New().String()+"-"+base)
}

// MinioConfig configures the S3-compatible object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Minio stores proofs in an S3-compatible bucket.
type Minio struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinio creates a MinIO-backed store.
func NewMinio(cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &Minio{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Put uploads the file and returns its public URL.
func (s *Minio) Put(ctx context.Context, prefix string, up Upload) (string, error) {
	if err := up.Validate(); err != nil {
		return "", err
	}
	name := ObjectName(prefix, up.FileName)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, name, bytes.NewReader(up.Data), int64(len(up.Data)), minio.PutObjectOptions{
		ContentType: up.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload proof: %w", err)
	}
	return s.publicURL(name), nil
}

// Delete removes the object behind url.
func (s *Minio) Delete(ctx context.Context, url string) error {
	name, ok := strings.CutPrefix(url, s.publicURL(""))
	if !ok || name == "" {
		return fmt.Errorf("%s: %w", url, ErrUnknownURL)
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete proof: %w", err)
	}
	return nil
}

func (s *Minio) publicURL(name string) string {
	protocol := "http"
	if s.cfg.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.cfg.Endpoint, s.cfg.Bucket, name)
}

// Local stores proofs in a directory served by the API process under baseURL.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates a directory-backed store.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the directory files are written to.
func (s *Local) Dir() string {
	return s.dir
}

// Put writes the file and returns its URL.
func (s *Local) Put(ctx context.Context, prefix string, up Upload) (string, error) {
	if err := up.Validate(); err != nil {
		return "", err
	}
	name := ObjectName(prefix, up.FileName)
	full := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create proof directory: %w", err)
	}
	if err := os.WriteFile(full, up.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write proof: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

// Delete removes the file behind url.
func (s *Local) Delete(ctx context.Context, url string) error {
	name, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || name == "" || strings.Contains(name, "..") {
		return fmt.Errorf("%s: %w", url, ErrUnknownURL)
	}
	if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(name))); err != nil {
		return fmt.Errorf("failed to delete proof: %w", err)
	}
	return nil
}
