package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Import   ImportConfig   `mapstructure:"import"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
	// UploadDir holds multipart uploads until the pipeline has stored them.
	UploadDir string `mapstructure:"upload_dir"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig lists the named disks a pipeline Context can target.
type StorageConfig struct {
	DefaultDisk string                `mapstructure:"default_disk"`
	Disks       map[string]DiskConfig `mapstructure:"disks"`
}

type DiskConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible, minio, local
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Root      string `mapstructure:"root"` // local disks only
}

type PipelineConfig struct {
	MaxSize          int64    `mapstructure:"max_size"`
	AllowedMimes     []string `mapstructure:"allowed_mimes"`
	DefaultDirectory string   `mapstructure:"default_directory"`
}

type ImportConfig struct {
	DiscoveryBatchSize int             `mapstructure:"discovery_batch_size"`
	DispatchJitter     time.Duration   `mapstructure:"dispatch_jitter"`
	DetectDelayMin     time.Duration   `mapstructure:"detect_delay_min"`
	DetectDelayMax     time.Duration   `mapstructure:"detect_delay_max"`
	ItemTimeout        time.Duration   `mapstructure:"item_timeout"`
	ItemDeadline       time.Duration   `mapstructure:"item_deadline"`
	MaxRetries         int             `mapstructure:"max_retries"`
	Backoff            []time.Duration `mapstructure:"backoff"`
}

type WorkerConfig struct {
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

type SourcesConfig struct {
	Staging StagingConfig `mapstructure:"staging"`
	Remote  RemoteConfig  `mapstructure:"remote"`
}

type StagingConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type RemoteConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIToken string        `mapstructure:"api_token"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TempDir  string        `mapstructure:"temp_dir"`
}

type DedupConfig struct {
	MaxExactMatches  int     `mapstructure:"max_exact_matches"`
	PerceptualRetain float64 `mapstructure:"perceptual_retain"`
	PerceptualReview float64 `mapstructure:"perceptual_review"`
	PerceptualLimit  int     `mapstructure:"perceptual_limit"`
	FilenameGate     int     `mapstructure:"filename_gate"`
	FilenameRetain   float64 `mapstructure:"filename_retain"`
	FilenameReview   float64 `mapstructure:"filename_review"`
	FilenameLimit    int     `mapstructure:"filename_limit"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are commonly injected with conventional names
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("sources.remote.base_url", "CATALOG_BASE_URL")
	v.BindEnv("sources.remote.api_token", "CATALOG_API_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Disk credentials follow STORAGE_<DISK>_ACCESS_KEY / _SECRET_KEY
	for name, disk := range cfg.Storage.Disks {
		prefix := "storage.disks." + name
		if key := v.GetString(prefix + ".access_key"); key != "" {
			disk.AccessKey = key
		}
		if secret := v.GetString(prefix + ".secret_key"); secret != "" {
			disk.SecretKey = secret
		}
		cfg.Storage.Disks[name] = disk
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.upload_dir", "./data/uploads")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/mediavault.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.default_disk", "local")
	v.SetDefault("storage.disks", map[string]interface{}{
		"local": map[string]interface{}{
			"type":       "local",
			"root":       "./data/media",
			"public_url": "http://localhost:8080/files",
		},
	})

	v.SetDefault("pipeline.max_size", 100<<20)
	v.SetDefault("pipeline.allowed_mimes", []string{"image/*", "video/*"})
	v.SetDefault("pipeline.default_directory", "media")

	v.SetDefault("import.discovery_batch_size", 50)
	v.SetDefault("import.dispatch_jitter", "10s")
	v.SetDefault("import.detect_delay_min", "5s")
	v.SetDefault("import.detect_delay_max", "30s")
	v.SetDefault("import.item_timeout", "5m")
	v.SetDefault("import.item_deadline", "1h")
	v.SetDefault("import.max_retries", 3)
	v.SetDefault("import.backoff", []string{"30s", "60s", "120s"})

	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.queues", map[string]int{
		"imports":      2,
		"import-items": 6,
		"detection":    2,
	})

	v.SetDefault("sources.staging.base_path", "./data/staging")
	v.SetDefault("sources.remote.page_size", 100)
	v.SetDefault("sources.remote.timeout", "60s")

	v.SetDefault("dedup.max_exact_matches", 5)
	v.SetDefault("dedup.perceptual_retain", 70.0)
	v.SetDefault("dedup.perceptual_review", 85.0)
	v.SetDefault("dedup.perceptual_limit", 5)
	v.SetDefault("dedup.filename_gate", 3)
	v.SetDefault("dedup.filename_retain", 80.0)
	v.SetDefault("dedup.filename_review", 90.0)
	v.SetDefault("dedup.filename_limit", 3)
}

// Validate reports configuration that would only fail later at runtime.
func (c *Config) Validate() error {
	if _, ok := c.Storage.Disks[c.Storage.DefaultDisk]; !ok {
		return fmt.Errorf("storage: default disk %q is not configured", c.Storage.DefaultDisk)
	}
	if c.Import.DiscoveryBatchSize <= 0 {
		return fmt.Errorf("import: discovery_batch_size must be positive")
	}
	if c.Import.DetectDelayMax < c.Import.DetectDelayMin {
		return fmt.Errorf("import: detect_delay_max must not be less than detect_delay_min")
	}
	return nil
}
