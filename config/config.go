package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Vera         VeraConfig         `yaml:"vera"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	History      HistoryConfig      `yaml:"history"`
	API          APIConfig          `yaml:"api"`
	Pushover     PushoverConfig     `yaml:"pushover"`
	Log          LogConfig          `yaml:"log"`
}

type VeraConfig struct {
	URL               string        `yaml:"url"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	OptimisticUpdates bool          `yaml:"optimistic_updates"`
}

type SubscriptionConfig struct {
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	MinDelay      time.Duration `yaml:"min_delay"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	MaxFailures   int           `yaml:"max_failures"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     uint          `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Retention int    `yaml:"retention_days"`
}

type APIConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	RateLimit   int           `yaml:"rate_limit"`
	RateWindow  time.Duration `yaml:"rate_window"`
	CORSOrigins []string      `yaml:"cors_origins"`
	AuthToken   string        `yaml:"auth_token"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Vera.RequestTimeout == 0 {
		c.Vera.RequestTimeout = 10 * time.Second
	}
	if c.Vera.SyncInterval == 0 {
		c.Vera.SyncInterval = 5 * time.Minute
	}
	if c.Subscription.PollTimeout == 0 {
		c.Subscription.PollTimeout = 30 * time.Second
	}
	if c.Subscription.MinDelay == 0 {
		c.Subscription.MinDelay = 200 * time.Millisecond
	}
	if c.Subscription.RetryDelay == 0 {
		c.Subscription.RetryDelay = 5 * time.Second
	}
	if c.Subscription.MaxRetryDelay == 0 {
		c.Subscription.MaxRetryDelay = 60 * time.Second
	}
	if c.Subscription.MaxFailures == 0 {
		c.Subscription.MaxFailures = 10
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "vera-bridge"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "vera"
	}
	if c.InfluxDB.Bucket == "" {
		c.InfluxDB.Bucket = "vera"
	}
	if c.InfluxDB.BatchSize == 0 {
		c.InfluxDB.BatchSize = 100
	}
	if c.InfluxDB.FlushInterval == 0 {
		c.InfluxDB.FlushInterval = 10 * time.Second
	}
	if c.History.Path == "" {
		c.History.Path = "./vera-history.db"
	}
	if c.History.Retention == 0 {
		c.History.Retention = 30
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = 60
	}
	if c.API.RateWindow == 0 {
		c.API.RateWindow = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// VERA_LOGLEVEL wins over the file so verbosity can be raised without edits.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VERA_LOGLEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("VERA_URL"); v != "" {
		c.Vera.URL = v
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.Vera.URL == "" {
		errs = append(errs, errors.New("vera.url is required"))
	} else if u, err := url.Parse(c.Vera.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("vera.url %q is not an absolute URL", c.Vera.URL))
	}

	if c.Subscription.MaxRetryDelay < c.Subscription.RetryDelay {
		errs = append(errs, errors.New("subscription.max_retry_delay must be >= retry_delay"))
	}
	if c.Subscription.MaxFailures < 0 {
		errs = append(errs, errors.New("subscription.max_failures must not be negative"))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			errs = append(errs, errors.New("mqtt.host is required when mqtt is enabled"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d out of range", c.MQTT.QoS))
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, errors.New("influxdb.url is required when influxdb is enabled"))
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, errors.New("influxdb.org is required when influxdb is enabled"))
		}
	}

	if c.Pushover.Enabled && (c.Pushover.Token == "" || c.Pushover.UserKey == "") {
		errs = append(errs, errors.New("pushover.token and pushover.user_key are required when pushover is enabled"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is invalid", c.Log.Level))
	}

	return errors.Join(errs...)
}
