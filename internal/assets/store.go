// Package assets implements the asset store adapter of spec §4.5/§4.7:
// upload of package assets at ingestion time, and URL issuance for the
// assets endpoint's 301/302 redirects.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/pkg/config"
)

// Store uploads dataset assets and issues the URL the assets endpoint
// redirects to.
type Store interface {
	Upload(ctx context.Context, key string, data []byte) error
	URL(ctx context.Context, key string) (string, error)
}

// NewFromConfig selects the blob-store adapter (bucket ASSET_STORE_BUCKET)
// when ASSET_STORE is "blob", and otherwise a local filesystem adapter
// rooted at ASSET_STORE_DIR (defaulting to ./assets) — useful for local
// development and tests without a MinIO/S3 endpoint.
func NewFromConfig(cfg *config.Config) (Store, error) {
	bucket := cfg.Get("ASSET_STORE_BUCKET")
	if cfg.Get("ASSET_STORE") != "blob" {
		dir := cfg.Get("ASSET_STORE_DIR")
		if dir == "" {
			dir = "./assets"
		}
		return &LocalStore{baseDir: dir, publicBase: cfg.Get("ASSET_STORE_PUBLIC_BASE")}, nil
	}

	endpoint := cfg.Get("ASSET_STORE_ENDPOINT")
	accessKey := cfg.Get("ASSET_STORE_ACCESS_KEY")
	secretKey := cfg.Get("ASSET_STORE_SECRET_KEY")
	useSSL := cfg.Bool("ASSET_STORE_SSL")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.Internal, err, "failed to create asset store client")
	}
	return &BlobStore{client: client, bucket: bucket, presignTTL: 24 * time.Hour}, nil
}

// BlobStore is the minio-go-backed adapter used in production (spec
// SPEC_FULL.md Domain Stack: minio/minio-go/v7).
type BlobStore struct {
	client     *minio.Client
	bucket     string
	presignTTL time.Duration
}

func (b *BlobStore) Upload(ctx context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := b.client.PutObject(ctx, b.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "asset upload failed")
	}
	return nil
}

func (b *BlobStore) URL(ctx context.Context, key string) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, b.presignTTL, url.Values{})
	if err != nil {
		return "", ddferrors.Wrap(ddferrors.Internal, err, "failed to presign asset URL")
	}
	return u.String(), nil
}

// LocalStore is a filesystem-backed adapter for development and tests,
// serving assets out of baseDir via a caller-supplied public base URL.
type LocalStore struct {
	baseDir    string
	publicBase string
}

func (l *LocalStore) Upload(ctx context.Context, key string, data []byte) error {
	full := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to create asset directory")
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return ddferrors.Wrap(ddferrors.Internal, err, "failed to write asset file")
	}
	return nil
}

func (l *LocalStore) URL(ctx context.Context, key string) (string, error) {
	if l.publicBase == "" {
		return "/assets/" + key, nil
	}
	return fmt.Sprintf("%s/%s", l.publicBase, key), nil
}
