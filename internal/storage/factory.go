package storage

import (
	"errors"
	"path"
	"strconv"
	"strings"

	"github.com/commercecrafted/nichepipeline/internal/config"
)

// ErrDisabled is returned by NewStorage when report archiving is off.
var ErrDisabled = errors.New("object storage is disabled")

// NewStorage creates an ObjectStorage instance based on the configuration.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
//
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: ErrDisabled when storage is off, non-nil if the client cannot be created.
func NewStorage(cfg config.StorageConfig) (ObjectStorage, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	s3cfg := &S3Config{
		Type:      StorageType(cfg.Type),
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	}
	// Auto-detect storage type if not specified
	if s3cfg.Type == "" {
		s3cfg.Type = detectStorageType(cfg.Endpoint)
	}

	return NewS3Storage(s3cfg)
}

// ReportKey returns the object key of a niche report under prefix. version
// distinguishes reports of successive aggregates; zero means unversioned.
func ReportKey(prefix, nicheID string, version int64) string {
	name := "niche-" + nicheID
	if version > 0 {
		name += "-" + strconv.FormatInt(version, 10)
	}
	return path.Join(strings.Trim(prefix, "/"), name+".xlsx")
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case endpoint == "", strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
