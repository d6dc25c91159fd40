package artifacts

import (
	"context"
	"fmt"
)

// StoreType selects a storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFS     StoreType = "fs"
	StoreTypeS3     StoreType = "s3"
	StoreTypeGCS    StoreType = "gcs"
)

// Config selects and configures a backend. Dir is used by fs; Bucket,
// Prefix, Region and Endpoint by the object stores.
type Config struct {
	Type     StoreType `yaml:"type"`
	Dir      string    `yaml:"dir"`
	Bucket   string    `yaml:"bucket"`
	Prefix   string    `yaml:"prefix"`
	Region   string    `yaml:"region"`
	Endpoint string    `yaml:"endpoint"`
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("artifact dir is required for fs storage")
		}
		return NewFileStore(cfg.Dir)
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket is required for s3 storage")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case StoreTypeGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket is required for gcs storage")
		}
		return openGCS(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Type)
	}
}
