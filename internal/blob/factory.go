package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"resourcecore/internal/infra/blob/fs"
	memorystore "resourcecore/internal/infra/blob/memory"
	infraS3 "resourcecore/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// Open selects a blob.Store implementation using environment variables.
//
//	RESOURCECORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	RESOURCECORE_BLOB_FS_ROOT: directory root when driver=fs (default ./exports)
//	RESOURCECORE_BLOB_S3_BUCKET: bucket when driver=s3 (required)
//	RESOURCECORE_BLOB_S3_REGION: region (default us-east-1)
//	RESOURCECORE_BLOB_S3_ENDPOINT: custom endpoint, e.g. MinIO
//	RESOURCECORE_BLOB_S3_PATH_STYLE: true|false
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("RESOURCECORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("RESOURCECORE_BLOB_FS_ROOT"))
	case DriverS3:
		cfg := S3Config{
			Bucket:    os.Getenv("RESOURCECORE_BLOB_S3_BUCKET"),
			Region:    os.Getenv("RESOURCECORE_BLOB_S3_REGION"),
			Endpoint:  os.Getenv("RESOURCECORE_BLOB_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("RESOURCECORE_BLOB_S3_PATH_STYLE"), "true"),
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("RESOURCECORE_BLOB_S3_BUCKET required for s3 driver")
		}
		return NewS3(ctx, cfg)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3ForTests exposes the in-memory S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
