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
	Submit   SubmitConfig   `mapstructure:"submit"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// QueueKey is the sorted-set key holding pending job references.
	QueueKey string `mapstructure:"queue_key"`
}

// StorageConfig selects and parameterizes the storage backend. It is resolved
// once at process start and injected; request paths never re-read it.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // local, minio or s3

	// Local backend roots, one per namespace.
	TempDir   string `mapstructure:"temp_dir"`
	OutputDir string `mapstructure:"output_dir"`

	// Object backends.
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	Region       string `mapstructure:"region"`
	TempBucket   string `mapstructure:"temp_bucket"`
	OutputBucket string `mapstructure:"output_bucket"`

	// TempLifecycleConfirmed records that the object-store bucket has a native
	// expiry rule for the temp namespace; the in-process scheduler never sweeps
	// temp under object backends.
	TempLifecycleConfirmed bool `mapstructure:"temp_lifecycle_confirmed"`
}

type SubmitConfig struct {
	MaxFileSize    int64    `mapstructure:"max_file_size"`
	AllowedExts    []string `mapstructure:"allowed_exts"`
	DefaultBackend string   `mapstructure:"default_backend"`
	DefaultLang    string   `mapstructure:"default_lang"`
	DefaultMethod  string   `mapstructure:"default_method"`
	FormulaEnable  bool     `mapstructure:"formula_enable"`
	TableEnable    bool     `mapstructure:"table_enable"`
	EmbedImages    bool     `mapstructure:"embed_images"`
}

type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	DequeueTimeout    time.Duration `mapstructure:"dequeue_timeout"`
	SoftTimeout       time.Duration `mapstructure:"soft_timeout"`
	HardTimeout       time.Duration `mapstructure:"hard_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// ParserCommand is the external parse executable invoked per job.
	ParserCommand string `mapstructure:"parser_command"`
}

type CleanupConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// ResultRetention is how long completed results stay retrievable.
	ResultRetention time.Duration `mapstructure:"result_retention"`
	// TempRetention bounds the age of orphaned temp objects (local backend only).
	TempRetention time.Duration `mapstructure:"temp_retention"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
	DryRun        bool          `mapstructure:"dry_run"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
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

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", false)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/mineru.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_key", "mineru:tasks")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.temp_dir", "/tmp/mineru_temp")
	v.SetDefault("storage.output_dir", "/tmp/mineru_output")
	v.SetDefault("storage.temp_bucket", "mineru-temp")
	v.SetDefault("storage.output_bucket", "mineru-output")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("submit.max_file_size", 100<<20)
	v.SetDefault("submit.allowed_exts", []string{
		".pdf", ".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".tif", ".webp",
	})
	v.SetDefault("submit.default_backend", "pipeline")
	v.SetDefault("submit.default_lang", "ch")
	v.SetDefault("submit.default_method", "auto")
	v.SetDefault("submit.formula_enable", true)
	v.SetDefault("submit.table_enable", true)
	v.SetDefault("submit.embed_images", true)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.dequeue_timeout", 5*time.Second)
	v.SetDefault("worker.soft_timeout", 100*time.Minute)
	v.SetDefault("worker.hard_timeout", 2*time.Hour)
	v.SetDefault("worker.max_retries", 0)
	v.SetDefault("worker.retry_delay", 5*time.Minute)
	v.SetDefault("worker.heartbeat_interval", 30*time.Second)
	v.SetDefault("worker.parser_command", "mineru")
	v.SetDefault("cleanup.interval", 24*time.Hour)
	v.SetDefault("cleanup.result_retention", 24*time.Hour)
	v.SetDefault("cleanup.temp_retention", 24*time.Hour)
	v.SetDefault("cleanup.run_on_start", false)
	v.SetDefault("cleanup.dry_run", false)
	v.SetDefault("webhook.timeout", 10*time.Second)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.backend", "MINERU_STORAGE_TYPE")
	v.BindEnv("storage.endpoint", "MINERU_S3_ENDPOINT")
	v.BindEnv("storage.access_key", "MINERU_S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "MINERU_S3_SECRET_KEY")
	v.BindEnv("storage.use_ssl", "MINERU_S3_SECURE")
	v.BindEnv("storage.region", "MINERU_S3_REGION")
	v.BindEnv("storage.temp_bucket", "MINERU_S3_BUCKET_TEMP")
	v.BindEnv("storage.output_bucket", "MINERU_S3_BUCKET_OUTPUT")
	v.BindEnv("storage.temp_dir", "TEMP_DIR")
	v.BindEnv("storage.output_dir", "OUTPUT_DIR")
	v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	v.BindEnv("webhook.url", "WEBHOOK_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the processes cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.TempDir == "" || c.Storage.OutputDir == "" {
			return fmt.Errorf("local storage backend requires temp_dir and output_dir")
		}
	case "minio", "s3":
		if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
			return fmt.Errorf("minio storage backend requires an endpoint")
		}
		if c.Storage.TempBucket == "" || c.Storage.OutputBucket == "" {
			return fmt.Errorf("object storage backend requires temp_bucket and output_bucket")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %q", c.Storage.Backend)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	if c.Worker.HardTimeout > 0 && c.Worker.SoftTimeout > c.Worker.HardTimeout {
		return fmt.Errorf("worker soft_timeout must not exceed hard_timeout")
	}
	return nil
}
