package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Cache     CacheConfig     `mapstructure:"cache"`
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

// DatabaseConfig selects the gorm dialect and connection pool settings.
// URL wins over the discrete postgres fields when both are set.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	URL             string        `mapstructure:"url"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver != "postgres" {
		return c.Path
	}
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type ProvidersConfig struct {
	Keepa  KeepaConfig  `mapstructure:"keepa"`
	SPAPI  SPAPIConfig  `mapstructure:"spapi"`
	Ads    AdsConfig    `mapstructure:"ads"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Apify  ApifyConfig  `mapstructure:"apify"`
}

type KeepaConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Domain  int           `mapstructure:"domain"` // 1 = amazon.com
	Timeout time.Duration `mapstructure:"timeout"`
}

type SPAPIConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	TokenURL      string        `mapstructure:"token_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	RefreshToken  string        `mapstructure:"refresh_token"`
	MarketplaceID string        `mapstructure:"marketplace_id"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type AdsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	TokenURL       string        `mapstructure:"token_url"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	RefreshToken   string        `mapstructure:"refresh_token"`
	ProfileID      string        `mapstructure:"profile_id"`
	MaxSuggestions int           `mapstructure:"max_suggestions"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	KeywordIdea bool          `mapstructure:"keyword_ideas"` // also act as a keyword source
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ApifyConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Token        string        `mapstructure:"token"`
	BaseURL      string        `mapstructure:"base_url"`
	ActorID      string        `mapstructure:"actor_id"`
	MaxReviews   int           `mapstructure:"max_reviews"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// BatchConfig is the rate-limit shape of one provider call site.
type BatchConfig struct {
	Size           int           `mapstructure:"size"`
	Delay          time.Duration `mapstructure:"delay"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

type PipelineConfig struct {
	DefaultSources       []string      `mapstructure:"default_sources"`
	IdentifierBatch      BatchConfig   `mapstructure:"identifier_batch"`
	BidBatch             BatchConfig   `mapstructure:"bid_batch"`
	KeywordUpsertBatch   int           `mapstructure:"keyword_upsert_batch"`
	ProgressWriteRetries int           `mapstructure:"progress_write_retries"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // r2, s3, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type CacheConfig struct {
	StatusSize int `mapstructure:"status_size"`
}

// Load reads configuration from an optional YAML file, .env and the
// environment, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
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

	// Secrets come from the environment under their vendor names.
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("providers.keepa.api_key", "KEEPA_API_KEY")
	v.BindEnv("providers.spapi.client_id", "SPAPI_CLIENT_ID")
	v.BindEnv("providers.spapi.client_secret", "SPAPI_CLIENT_SECRET")
	v.BindEnv("providers.spapi.refresh_token", "SPAPI_REFRESH_TOKEN")
	v.BindEnv("providers.spapi.marketplace_id", "SPAPI_MARKETPLACE_ID")
	v.BindEnv("providers.ads.client_id", "ADS_API_CLIENT_ID")
	v.BindEnv("providers.ads.client_secret", "ADS_API_CLIENT_SECRET")
	v.BindEnv("providers.ads.refresh_token", "ADS_API_REFRESH_TOKEN")
	v.BindEnv("providers.ads.profile_id", "ADS_API_PROFILE_ID")
	v.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("providers.openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("providers.apify.token", "APIFY_TOKEN")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
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

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/nichepipeline.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("providers.keepa.enabled", true)
	v.SetDefault("providers.keepa.base_url", "https://api.keepa.com")
	v.SetDefault("providers.keepa.domain", 1)
	v.SetDefault("providers.keepa.timeout", 30*time.Second)

	v.SetDefault("providers.spapi.enabled", false)
	v.SetDefault("providers.spapi.base_url", "https://sellingpartnerapi-na.amazon.com")
	v.SetDefault("providers.spapi.token_url", "https://api.amazon.com/auth/o2/token")
	v.SetDefault("providers.spapi.marketplace_id", "ATVPDKIKX0DER")
	v.SetDefault("providers.spapi.timeout", 20*time.Second)

	v.SetDefault("providers.ads.enabled", true)
	v.SetDefault("providers.ads.base_url", "https://advertising-api.amazon.com")
	v.SetDefault("providers.ads.token_url", "https://api.amazon.com/auth/o2/token")
	v.SetDefault("providers.ads.max_suggestions", 100)
	v.SetDefault("providers.ads.timeout", 30*time.Second)

	v.SetDefault("providers.openai.enabled", false)
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.keyword_ideas", false)
	v.SetDefault("providers.openai.timeout", 60*time.Second)

	v.SetDefault("providers.apify.enabled", false)
	v.SetDefault("providers.apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("providers.apify.actor_id", "axesso_data~amazon-reviews-scraper")
	v.SetDefault("providers.apify.max_reviews", 100)
	v.SetDefault("providers.apify.poll_interval", 5*time.Second)
	v.SetDefault("providers.apify.max_wait", 5*time.Minute)
	v.SetDefault("providers.apify.timeout", 30*time.Second)

	v.SetDefault("pipeline.default_sources", []string{"keepa", "amazon_ads"})
	v.SetDefault("pipeline.identifier_batch.size", 1)
	v.SetDefault("pipeline.identifier_batch.delay", 2*time.Second)
	v.SetDefault("pipeline.identifier_batch.call_timeout", 2*time.Minute)
	v.SetDefault("pipeline.identifier_batch.max_retries", 1)
	v.SetDefault("pipeline.identifier_batch.retry_base_delay", time.Second)
	v.SetDefault("pipeline.identifier_batch.retry_max_delay", 10*time.Second)
	v.SetDefault("pipeline.bid_batch.size", 33)
	v.SetDefault("pipeline.bid_batch.delay", 500*time.Millisecond)
	v.SetDefault("pipeline.bid_batch.call_timeout", 30*time.Second)
	v.SetDefault("pipeline.bid_batch.max_retries", 2)
	v.SetDefault("pipeline.bid_batch.retry_base_delay", time.Second)
	v.SetDefault("pipeline.bid_batch.retry_max_delay", 8*time.Second)
	v.SetDefault("pipeline.keyword_upsert_batch", 100)
	v.SetDefault("pipeline.progress_write_retries", 3)
	v.SetDefault("pipeline.stale_after", 30*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "niche-progress")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "niche-reports")
	v.SetDefault("storage.prefix", "reports")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("cache.status_size", 256)
}
