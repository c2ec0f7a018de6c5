package publish

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config describes how to connect to an object store provider.
type Config struct {
	Provider     string `yaml:"provider"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`
	PathStyle    bool   `yaml:"path_style"`
}

// ObjectInfo captures metadata about a remote object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Provider is a generic object store client.
type Provider interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Upload(ctx context.Context, key string, localPath string) (ObjectInfo, error)
	Close() error
}

// NewProvider creates a provider client based on config.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	provider := NormalizeProvider(cfg.Provider)
	if provider == "" {
		return nil, fmt.Errorf("publish provider is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("publish bucket is required")
	}
	cfg.Provider = provider
	switch provider {
	case "s3":
		return newS3Provider(ctx, cfg)
	case "file":
		return newFileProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported publish provider: %s", cfg.Provider)
	}
}

// NormalizeProvider maps known aliases to provider names.
func NormalizeProvider(value string) string {
	provider := strings.ToLower(strings.TrimSpace(value))
	switch provider {
	case "aws", "s3", "minio":
		return "s3"
	case "file", "dir", "local":
		return "file"
	default:
		return provider
	}
}

// ResolveKey joins a base prefix with a key without introducing double slashes.
func ResolveKey(prefix string, key string) string {
	cleanPrefix := strings.TrimPrefix(prefix, "/")
	cleanKey := strings.TrimPrefix(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	if strings.HasSuffix(cleanPrefix, "/") {
		return cleanPrefix + cleanKey
	}
	return cleanPrefix + "/" + cleanKey
}
