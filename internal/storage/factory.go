package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/timmy/mediavault/internal/config"
)

// NewStorage creates an ObjectStorage instance for one configured disk.
// Parameters:
//   - ctx: context used while loading SDK configuration.
//   - disk: disk configuration including type, endpoint and credentials.
//
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(ctx context.Context, disk config.DiskConfig) (ObjectStorage, error) {
	storeType := StorageType(strings.ToLower(disk.Type))
	if storeType == "" {
		storeType = detectStorageType(disk.Endpoint)
	}

	switch storeType {
	case StorageTypeLocal:
		return NewLocalStorage(disk.Root, disk.PublicURL)
	case StorageTypeMinIO:
		return NewMinIOStorage(&MinIOConfig{
			Endpoint:  disk.Endpoint,
			AccessKey: disk.AccessKey,
			SecretKey: disk.SecretKey,
			UseSSL:    disk.UseSSL,
			Bucket:    disk.Bucket,
			Region:    disk.Region,
			PublicURL: disk.PublicURL,
		})
	case StorageTypeS3, StorageTypeR2, StorageTypeS3Compatible:
		return NewS3Storage(ctx, &S3Config{
			Type:      storeType,
			Endpoint:  disk.Endpoint,
			AccessKey: disk.AccessKey,
			SecretKey: disk.SecretKey,
			UseSSL:    disk.UseSSL,
			Bucket:    disk.Bucket,
			Region:    disk.Region,
			PublicURL: disk.PublicURL,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type %q", disk.Type)
	}
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case endpoint == "":
		return StorageTypeLocal
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}

// Disks resolves disk names to backends, opening each one on first use.
type Disks struct {
	mu          sync.Mutex
	configs     map[string]config.DiskConfig
	opened      map[string]ObjectStorage
	defaultDisk string
}

// NewDisks creates a Disks manager over the configured disks.
func NewDisks(cfg config.StorageConfig) *Disks {
	return &Disks{
		configs:     cfg.Disks,
		opened:      make(map[string]ObjectStorage),
		defaultDisk: cfg.DefaultDisk,
	}
}

// NewStaticDisks wraps already-constructed backends.
func NewStaticDisks(defaultDisk string, disks map[string]ObjectStorage) *Disks {
	opened := make(map[string]ObjectStorage, len(disks))
	for name, d := range disks {
		opened[name] = d
	}
	return &Disks{
		configs:     map[string]config.DiskConfig{},
		opened:      opened,
		defaultDisk: defaultDisk,
	}
}

// Default returns the default disk name.
func (d *Disks) Default() string {
	return d.defaultDisk
}

// Disk returns the backend for name; an empty name selects the default disk.
func (d *Disks) Disk(ctx context.Context, name string) (ObjectStorage, error) {
	if name == "" {
		name = d.defaultDisk
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.opened[name]; ok {
		return s, nil
	}
	cfg, ok := d.configs[name]
	if !ok {
		return nil, fmt.Errorf("storage disk %q is not configured", name)
	}
	s, err := NewStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open disk %s: %w", name, err)
	}
	d.opened[name] = s
	return s, nil
}
