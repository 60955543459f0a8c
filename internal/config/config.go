// Package config loads service settings from defaults, an optional YAML file, a .env file and
// the environment, in increasing order of precedence. Keys are dotted (db.main_dsn); the
// environment form upper-cases them and swaps dots for underscores (DB_MAIN_DSN).
package config

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"reflect"
	"strings"
	"time"
)

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Events    EventsConfig    `mapstructure:"events"`
	Loyalty   LoyaltyConfig   `mapstructure:"loyalty"`
	Lock      LockConfig      `mapstructure:"lock"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Receipts  ReceiptsConfig  `mapstructure:"receipts"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	MainDSN        string   `mapstructure:"main_dsn"`
	OrderShardDSNs []string `mapstructure:"order_shard_dsns"`
	MigrateRetries int      `mapstructure:"migrate_retries"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type EventsConfig struct {
	Driver string `mapstructure:"driver"`
}

type LoyaltyConfig struct {
	AccrualRate decimal.Decimal `mapstructure:"accrual_rate"`
	// ReconcileInterval is how often the worker credits completed orders whose credit failed.
	// Zero turns the pass off.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatch    int           `mapstructure:"reconcile_batch"`
}

type LockConfig struct {
	Wait time.Duration `mapstructure:"wait"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type RateLimitConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

type CatalogConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type ReceiptsConfig struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var defaults = map[string]interface{}{
	"http.addr":                  ":8082",
	"db.main_dsn":                "root:@tcp(127.0.0.1:3306)/restaurant",
	"db.order_shard_dsns":        "root:@tcp(127.0.0.1:3306)/restaurant",
	"db.migrate_retries":         3,
	"storage.driver":             "mysql",
	"redis.addr":                 "",
	"kafka.brokers":              "localhost:9092,localhost:9093,localhost:9094",
	"kafka.topic":                "order-topic",
	"kafka.group_id":             "receipt-worker",
	"events.driver":              "kafka",
	"loyalty.accrual_rate":       "0.1",
	"loyalty.reconcile_interval": "1m",
	"loyalty.reconcile_batch":    100,
	"lock.wait":                  "3s",
	"lock.ttl":                   "10s",
	"jwt.secret":                 "secret",
	"ratelimit.rate":             20,
	"ratelimit.burst":            40,
	"retry.attempts":             3,
	"retry.backoff":              "50ms",
	"catalog.cache_ttl":          "1m",
	"receipts.bucket":            "",
	"receipts.region":            "us-east-1",
	"log.level":                  "info",
}

// Load reads configuration. cfgFile may be empty; a missing .env is not an error.
func Load(cfgFile string) (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New(), cfgFile)
}

func load(v *viper.Viper, cfgFile string) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	decoderConfigOption := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	})
	if err := v.Unmarshal(&cfg, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		}
		return data, nil
	}
}

func (c *Config) validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "mysql":
		if c.DB.MainDSN == "" {
			errs = append(errs, errors.New("db.main_dsn is required for the mysql storage driver"))
		}
		if len(c.DB.OrderShardDSNs) == 0 {
			errs = append(errs, errors.New("db.order_shard_dsns needs at least one DSN"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not mysql or memory", c.Storage.Driver))
	}
	switch c.Events.Driver {
	case "kafka", "sarama", "log":
	default:
		errs = append(errs, fmt.Errorf("events.driver %q is not kafka, sarama or log", c.Events.Driver))
	}
	if c.Loyalty.AccrualRate.IsNegative() {
		errs = append(errs, errors.New("loyalty.accrual_rate must not be negative"))
	}
	if c.Loyalty.ReconcileInterval < 0 || c.Loyalty.ReconcileBatch <= 0 {
		errs = append(errs, errors.New("loyalty.reconcile_interval must not be negative and loyalty.reconcile_batch must be positive"))
	}
	if c.Lock.Wait <= 0 {
		errs = append(errs, errors.New("lock.wait must be positive"))
	}
	return errors.Join(errs...)
}
