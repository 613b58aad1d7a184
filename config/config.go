package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIKey              string
	APIBaseURL          string
	PollInterval        time.Duration
	MaxPollAttempts     int
	RequestTimeout      time.Duration
	DownloadConcurrency int

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	PendingQueue    string
	ProcessingQueue string
	FailedQueue     string
	WorkerCount     int
	WorkDir         string
	StaleAfter      time.Duration

	S3Bucket       string
	S3Region       string
	AWSS3AccessKey string
	AWSS3SecretKey string
	S3Endpoint     string
	S3UsePathStyle bool

	DatabaseURL       string
	ConversionTimeout int
	MaxRetries        int

	ListenAddr string
	LogLevel   string
	LogFormat  string
}

// Defaults registers default values and environment bindings on v. Each key
// is bound to one or more environment variables; the first one set wins.
func Defaults(v *viper.Viper) {
	bind := func(key string, fallback any, envs ...string) {
		v.SetDefault(key, fallback)
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}

	bind("api_key", "", "ACCUSOFT_API_KEY", "DOCCONVERT_API_KEY")
	bind("api_base_url", "https://api.accusoft.com", "ACCUSOFT_API_URL", "DOCCONVERT_API_BASE_URL")
	bind("poll_interval", 100*time.Millisecond, "CONVERSION_POLL_INTERVAL")
	bind("max_poll_attempts", 0, "CONVERSION_MAX_POLL_ATTEMPTS")
	bind("request_timeout", time.Duration(0), "CONVERSION_REQUEST_TIMEOUT")
	bind("download_concurrency", 4, "CONVERSION_DOWNLOAD_CONCURRENCY")

	bind("redis_addr", "redis:6379", "REDIS_ADDR")
	bind("redis_password", "", "REDIS_PASSWORD")
	bind("redis_db", 3, "REDIS_CONVERSION_DB")
	bind("redis_prefix", "", "REDIS_PREFIX")
	bind("pending_queue", "conversion:pending", "CONVERSION_PENDING_QUEUE")
	bind("processing_queue", "conversion:processing", "CONVERSION_PROCESSING_QUEUE")
	bind("failed_queue", "conversion:failed", "CONVERSION_FAILED_QUEUE")
	bind("worker_count", 3, "CONVERSION_WORKER_COUNT")
	bind("work_dir", "/tmp/conversions", "CONVERSION_WORK_DIR")
	bind("stale_after", 5*time.Minute, "CONVERSION_STALE_AFTER")

	bind("s3_bucket", "docconvert", "AWS_BUCKET")
	// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
	bind("s3_region", "us-east-1", "S3_REGION", "AWS_DEFAULT_REGION")
	bind("s3_key", "", "S3_KEY", "AWS_ACCESS_KEY_ID")
	bind("s3_secret", "", "S3_SECRET", "AWS_SECRET_ACCESS_KEY")
	bind("s3_endpoint", "", "S3_ENDPOINT")
	bind("s3_use_path_style", "", "S3_USE_PATH_STYLE_ENDPOINT")

	bind("db_host", "localhost", "DB_HOST")
	bind("db_port", "5432", "DB_PORT")
	bind("db_database", "docconvert", "DB_DATABASE")
	bind("db_username", "docconvert", "DB_USERNAME")
	bind("db_password", "", "DB_PASSWORD")
	bind("db_sslmode", "disable", "DB_SSLMODE")
	bind("db_sslcert", "", "DB_SSLCERT")
	bind("db_sslkey", "", "DB_SSLKEY")
	bind("db_sslrootcert", "", "DB_SSLROOTCERT")

	bind("conversion_timeout", 120, "CONVERSION_TIMEOUT")
	bind("max_retries", 3, "CONVERSION_MAX_RETRIES")

	bind("listen_addr", ":8080", "LISTEN_ADDR")
	bind("log_level", "info", "LOG_LEVEL")
	bind("log_format", "console", "LOG_FORMAT")
}

// Load resolves the configuration from v. Defaults must have been registered.
func Load(v *viper.Viper) *Config {
	redisPrefix := v.GetString("redis_prefix")

	return &Config{
		APIKey:              apiKey(v),
		APIBaseURL:          strings.TrimRight(v.GetString("api_base_url"), "/"),
		PollInterval:        v.GetDuration("poll_interval"),
		MaxPollAttempts:     v.GetInt("max_poll_attempts"),
		RequestTimeout:      v.GetDuration("request_timeout"),
		DownloadConcurrency: v.GetInt("download_concurrency"),

		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		RedisPrefix:     redisPrefix,
		PendingQueue:    applyPrefix(v.GetString("pending_queue"), redisPrefix),
		ProcessingQueue: applyPrefix(v.GetString("processing_queue"), redisPrefix),
		FailedQueue:     applyPrefix(v.GetString("failed_queue"), redisPrefix),
		WorkerCount:     v.GetInt("worker_count"),
		WorkDir:         v.GetString("work_dir"),
		StaleAfter:      v.GetDuration("stale_after"),

		S3Bucket:       v.GetString("s3_bucket"),
		S3Region:       v.GetString("s3_region"),
		AWSS3AccessKey: v.GetString("s3_key"),
		AWSS3SecretKey: v.GetString("s3_secret"),
		S3Endpoint:     v.GetString("s3_endpoint"),
		S3UsePathStyle: parseBool(v.GetString("s3_use_path_style"), false),

		DatabaseURL:       databaseURL(v),
		ConversionTimeout: v.GetInt("conversion_timeout"),
		MaxRetries:        v.GetInt("max_retries"),

		ListenAddr: v.GetString("listen_addr"),
		LogLevel:   v.GetString("log_level"),
		LogFormat:  v.GetString("log_format"),
	}
}

// StatusKey returns the Redis hash key holding the status of a conversion.
func (c *Config) StatusKey(conversionID string) string {
	return applyPrefix("conversion:status:"+conversionID, c.RedisPrefix)
}

// apiKey falls back to the camelCase "apiKey" used by legacy config.json files.
func apiKey(v *viper.Viper) string {
	if key := v.GetString("api_key"); key != "" {
		return key
	}
	return v.GetString("apikey")
}

func databaseURL(v *viper.Viper) string {
	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	dbURL := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s",
		v.GetString("db_host"), v.GetString("db_port"), v.GetString("db_database"), v.GetString("db_username"),
	)
	if password := v.GetString("db_password"); password != "" {
		dbURL += fmt.Sprintf(" password=%s", password)
	}
	dbURL += fmt.Sprintf(" sslmode=%s", v.GetString("db_sslmode"))

	// Append SSL certificate paths if provided
	if cert := v.GetString("db_sslcert"); cert != "" {
		dbURL += fmt.Sprintf(" sslcert=%s", cert)
	}
	if key := v.GetString("db_sslkey"); key != "" {
		dbURL += fmt.Sprintf(" sslkey=%s", key)
	}
	if rootCert := v.GetString("db_sslrootcert"); rootCert != "" {
		dbURL += fmt.Sprintf(" sslrootcert=%s", rootCert)
	}
	return dbURL
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
