package coremain

import (
	"github.com/pmkol/cachestorage/mlog"
)

type Config struct {
	Log     mlog.LogConfig `yaml:"log"`
	API     APIConfig      `yaml:"api"`
	Storage StorageConfig  `yaml:"storage"`

	// Caches are opened at start-up.
	Caches  []string `yaml:"caches"`
	Include []string `yaml:"include"`
}

type APIConfig struct {
	HTTP          string `yaml:"http"`
	ProxyProtocol bool   `yaml:"proxy_protocol"`
	IdleTimeout   uint   `yaml:"idle_timeout"` // in seconds
}

type StorageConfig struct {
	Origin string `yaml:"origin"`

	// Backend is one of memory, disk, redis and s3.
	Backend string `yaml:"backend"`

	// Dir holds one sub directory per cache. Used by disk.
	Dir string `yaml:"dir"`

	MaxBytes      int64 `yaml:"max_bytes"`
	MaxEntryBytes int64 `yaml:"max_entry_bytes"`
	Quota         int64 `yaml:"quota"`
	MaxBlobs      int   `yaml:"max_blobs"`

	// Debug logs every backend call.
	Debug bool `yaml:"debug"`

	Redis RedisConfig `yaml:"redis"`
	S3    S3Config    `yaml:"s3"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Prefix    string `yaml:"prefix"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

func (c *Config) setDefaults() {
	if len(c.Storage.Origin) == 0 {
		c.Storage.Origin = "default"
	}
	if len(c.Storage.Backend) == 0 {
		c.Storage.Backend = BackendMemory
	}
	if len(c.Storage.Dir) == 0 {
		c.Storage.Dir = "cache_data"
	}
	if len(c.Storage.Redis.Prefix) == 0 {
		c.Storage.Redis.Prefix = "cachestorage:"
	}
	if len(c.Storage.S3.Prefix) == 0 {
		c.Storage.S3.Prefix = "cachestorage/"
	}
}
