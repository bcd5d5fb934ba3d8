package blob

import (
	"context"
	"fmt"

	"biodb/internal/infra/blob/fs"
	memorystore "biodb/internal/infra/blob/memory"
	infraS3 "biodb/internal/infra/blob/s3"
)

// S3Config configures the S3 backend.
type S3Config = infraS3.Config

// Options selects and configures a backend. It mirrors the BLOB_* keys of
// config.Config without importing the config package.
type Options struct {
	Driver      string
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Open constructs the configured Store (fs when Driver is empty).
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(opts.FSRoot)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    opts.S3Bucket,
			Region:    opts.S3Region,
			Endpoint:  opts.S3Endpoint,
			PathStyle: opts.S3PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem stores artifacts as files under root.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }

// NewMemory returns a process-local store, used by dry runs in tests.
func NewMemory() Store { return memorystore.New() }

// NewS3 stores artifacts in an S3-compatible bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infraS3.New(ctx, cfg) }

// NewMockS3ForTests returns an S3 store backed by an in-process transport.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
