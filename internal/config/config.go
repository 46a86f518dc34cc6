package config

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

type APPConfig struct {
	Environtment string        `koanf:"environtment" default:"development"`
	LogLevel     zerolog.Level `koanf:"log_level" default:"debug"`
}

// FirehoseConfig describes the upstream SSE timeline stream.
type FirehoseConfig struct {
	URL            string        `koanf:"url" default:"https://fedi.buzz/api/v1/streaming/public" validate:"required,url"`
	Token          string        `koanf:"token"`
	LocalDomain    string        `koanf:"local_domain" default:"localhost"`
	UserAgent      string        `koanf:"user_agent"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay" default:"5s" validate:"gt=0"`
}

// GetUserAgent returns the configured user agent, falling back to the
// Mastodon-style ingress identifier.
func (f *FirehoseConfig) GetUserAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return "Mastodon/ingress (+http://" + f.LocalDomain + "/)"
}

// StoreConfig points at the Mastodon database (or a read replica).
type StoreConfig struct {
	DSN          string `koanf:"dsn" default:"postgres://mastodon@localhost:5432/mastodon_production?sslmode=disable" validate:"required"`
	MaxOpenConns int    `koanf:"max_open_conns" default:"4"`
}

// QueueConfig describes the Sidekiq Redis backend fetch jobs are pushed to.
type QueueConfig struct {
	Addr     string `koanf:"addr" default:"localhost:6379" validate:"required"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" default:"0"`

	QueueName    string `koanf:"queue_name" default:"default"`
	JobClass     string `koanf:"job_class" default:"ActivityPub::FetchStatusWorker"`
	SidekiqQueue string `koanf:"sidekiq_queue" default:"pull"`
}

type CacheConfig struct {
	BlocksInterval time.Duration `koanf:"blocks_interval" default:"600s" validate:"gt=0"`
	ListsInterval  time.Duration `koanf:"lists_interval" default:"60s" validate:"gt=0"`
	NotifyChannel  string        `koanf:"notify_channel" default:"lists_changed"`
	CompileWorkers int           `koanf:"compile_workers" default:"4" validate:"gt=0"`
}

type DispatchConfig struct {
	Workers   int `koanf:"workers" default:"1" validate:"gt=0"`
	QueueSize int `koanf:"queue_size" default:"256" validate:"gt=0"`
}

// ServerConfig holds the operations HTTP server settings (health, metrics,
// pprof). The ingress engine itself serves no user traffic.
type ServerConfig struct {
	Scheme string `koanf:"scheme" default:"http"`
	Port   int    `koanf:"port" default:"8082"`
	Host   string `koanf:"host" default:"localhost"`

	ReadTimeout     time.Duration `koanf:"read_timeout" default:"5s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" default:"30s"`

	HealthCheck bool `koanf:"health_check" default:"true"`
}

func (s *ServerConfig) GetServerURL() string {
	return s.Scheme + "://" + s.Host + ":" + strconv.Itoa(s.Port)
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled" default:"false"`
}

type Config struct {
	APP       APPConfig
	Firehose  FirehoseConfig
	Store     StoreConfig
	Queue     QueueConfig
	Cache     CacheConfig
	Dispatch  DispatchConfig
	Server    ServerConfig
	Telemetry TelemetryConfig
}
