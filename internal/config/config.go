// Package config loads the capflow runtime configuration from defaults, an
// optional YAML file, CAPFLOW_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
)

// EnvPrefix is prepended to every environment override, e.g. CAPFLOW_QUEUE_BATCH_SIZE.
const EnvPrefix = "CAPFLOW"

var validate = newValidator()

// newValidator reports fields by their mapstructure key so errors name the
// setting a user would edit.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Config represents the complete capflow configuration
type Config struct {
	Queue      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	Capacity   CapacityConfig   `mapstructure:"capacity" yaml:"capacity"`
	Writer     WriterConfig     `mapstructure:"writer" yaml:"writer"`
	Producer   ProducerConfig   `mapstructure:"producer" yaml:"producer"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
}

// QueueConfig controls the autoscaling batch queue
type QueueConfig struct {
	Name string `mapstructure:"name" yaml:"name" validate:"required"`
	// Capacity bounds the backlog; 0 disables it, -1 means unbounded
	Capacity         int           `mapstructure:"capacity" yaml:"capacity" validate:"gte=-1"`
	BatchSize        int           `mapstructure:"batch_size" yaml:"batch_size" validate:"gt=0"`
	InitialWorkers   int           `mapstructure:"initial_workers" yaml:"initial_workers" validate:"gte=1"`
	ScaleUpThreshold int           `mapstructure:"scale_up_threshold" yaml:"scale_up_threshold" validate:"gte=0"`
	ScaleUpCooldown  time.Duration `mapstructure:"scale_up_cooldown" yaml:"scale_up_cooldown" validate:"gte=0"`
	// MaxWorkers caps scale-up, 0 = unbounded
	MaxWorkers    int  `mapstructure:"max_workers" yaml:"max_workers" validate:"gte=0"`
	ScaleDownIdle bool `mapstructure:"scale_down_idle" yaml:"scale_down_idle"`
	MinWorkers    int  `mapstructure:"min_workers" yaml:"min_workers" validate:"gte=1"`
}

// CapacityConfig controls the downstream resource budget
type CapacityConfig struct {
	Name          string        `mapstructure:"name" yaml:"name" validate:"required"`
	PerInterval   int           `mapstructure:"per_interval" yaml:"per_interval" validate:"gt=0"`
	Interval      time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
	LatencyMean   time.Duration `mapstructure:"latency_mean" yaml:"latency_mean" validate:"gte=0"`
	LatencyStdDev time.Duration `mapstructure:"latency_stddev" yaml:"latency_stddev" validate:"gte=0"`
}

// WriterConfig controls how assigned batches are driven against the resource
type WriterConfig struct {
	MaxBatch   int           `mapstructure:"max_batch" yaml:"max_batch" validate:"gt=0"`
	Backoff    time.Duration `mapstructure:"backoff" yaml:"backoff" validate:"gt=0"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" validate:"gte=0"`
	// MaxAttempts gives up on a sub-batch after this many tries, 0 = until cancelled
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
}

// ProducerConfig controls the simulated producers
type ProducerConfig struct {
	Count     int           `mapstructure:"count" yaml:"count" validate:"gt=0"`
	Groups    int           `mapstructure:"groups" yaml:"groups" validate:"gt=0"`
	GroupSize int           `mapstructure:"group_size" yaml:"group_size" validate:"gt=0"`
	Pause     time.Duration `mapstructure:"pause" yaml:"pause" validate:"gte=0"`
	// OnFull is the policy for rejected submissions: "retry" or "drop"
	OnFull     string        `mapstructure:"on_full" yaml:"on_full" validate:"oneof=retry drop"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gt=0"`
	// Rate caps submissions per second across producers, 0 = unpaced
	Rate  float64 `mapstructure:"rate" yaml:"rate" validate:"gte=0"`
	Burst int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// RedisConfig enables a capacity window shared through Redis
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db" validate:"gte=0"`
	Key      string        `mapstructure:"key" yaml:"key" validate:"required_if=Enabled true"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// ServerConfig controls the status HTTP server
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// SimulationConfig controls the simulation runner
type SimulationConfig struct {
	// Duration stops producers early, 0 = run until every group is submitted
	Duration      time.Duration `mapstructure:"duration" yaml:"duration" validate:"gte=0"`
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval" validate:"gt=0"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout" validate:"gt=0"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Name:             "feed",
			Capacity:         1000,
			BatchSize:        25,
			InitialWorkers:   1,
			ScaleUpThreshold: 5,
			ScaleUpCooldown:  time.Second,
			MaxWorkers:       0,
			ScaleDownIdle:    false,
			MinWorkers:       1,
		},
		Capacity: CapacityConfig{
			Name:          "feed-table",
			PerInterval:   100,
			Interval:      time.Second,
			LatencyMean:   6 * time.Millisecond,
			LatencyStdDev: time.Millisecond,
		},
		Writer: WriterConfig{
			MaxBatch:    25,
			Backoff:     15 * time.Millisecond,
			MaxBackoff:  0,
			MaxAttempts: 0,
		},
		Producer: ProducerConfig{
			Count:      4,
			Groups:     20,
			GroupSize:  50,
			Pause:      10 * time.Millisecond,
			OnFull:     "retry",
			RetryDelay: 15 * time.Millisecond,
			Rate:       0,
			Burst:      50,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Key:     "feed-table",
			Timeout: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Enabled: false,
			Addr:    ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Simulation: SimulationConfig{
			Duration:      0,
			StatsInterval: 2 * time.Second,
			DrainTimeout:  10 * time.Second,
		},
	}
}

// SetDefaults registers every default value with v so that environment
// variables can override keys that never appear in a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("queue.name", d.Queue.Name)
	v.SetDefault("queue.capacity", d.Queue.Capacity)
	v.SetDefault("queue.batch_size", d.Queue.BatchSize)
	v.SetDefault("queue.initial_workers", d.Queue.InitialWorkers)
	v.SetDefault("queue.scale_up_threshold", d.Queue.ScaleUpThreshold)
	v.SetDefault("queue.scale_up_cooldown", d.Queue.ScaleUpCooldown)
	v.SetDefault("queue.max_workers", d.Queue.MaxWorkers)
	v.SetDefault("queue.scale_down_idle", d.Queue.ScaleDownIdle)
	v.SetDefault("queue.min_workers", d.Queue.MinWorkers)

	v.SetDefault("capacity.name", d.Capacity.Name)
	v.SetDefault("capacity.per_interval", d.Capacity.PerInterval)
	v.SetDefault("capacity.interval", d.Capacity.Interval)
	v.SetDefault("capacity.latency_mean", d.Capacity.LatencyMean)
	v.SetDefault("capacity.latency_stddev", d.Capacity.LatencyStdDev)

	v.SetDefault("writer.max_batch", d.Writer.MaxBatch)
	v.SetDefault("writer.backoff", d.Writer.Backoff)
	v.SetDefault("writer.max_backoff", d.Writer.MaxBackoff)
	v.SetDefault("writer.max_attempts", d.Writer.MaxAttempts)

	v.SetDefault("producer.count", d.Producer.Count)
	v.SetDefault("producer.groups", d.Producer.Groups)
	v.SetDefault("producer.group_size", d.Producer.GroupSize)
	v.SetDefault("producer.pause", d.Producer.Pause)
	v.SetDefault("producer.on_full", d.Producer.OnFull)
	v.SetDefault("producer.retry_delay", d.Producer.RetryDelay)
	v.SetDefault("producer.rate", d.Producer.Rate)
	v.SetDefault("producer.burst", d.Producer.Burst)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key", d.Redis.Key)
	v.SetDefault("redis.timeout", d.Redis.Timeout)

	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("simulation.duration", d.Simulation.Duration)
	v.SetDefault("simulation.stats_interval", d.Simulation.StatsInterval)
	v.SetDefault("simulation.drain_timeout", d.Simulation.DrainTimeout)
}

// NewViper returns a viper instance with defaults and environment overrides
// applied. If path is non-empty the file is read; a missing file is an error.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks every section and returns all failures joined together.
// Each failure is a *errors.ValidationError naming the offending key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateRelations()
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, cferrors.NewValidationError("config", keyFor(fe), fe.Value(), ruleFor(fe)))
	}
	if rel := c.validateRelations(); rel != nil {
		errs = append(errs, rel)
	}
	return errors.Join(errs...)
}

func (c *Config) validateRelations() error {
	if c.Queue.MaxWorkers > 0 && c.Queue.MaxWorkers < c.Queue.InitialWorkers {
		return cferrors.NewValidationError("config", "queue.max_workers", c.Queue.MaxWorkers,
			"smaller than queue.initial_workers").WithHint("raise max_workers or set it to 0 for no limit")
	}
	return nil
}

// keyFor turns a namespace such as Config.queue.batch_size into queue.batch_size.
func keyFor(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func ruleFor(fe validator.FieldError) string {
	if fe.Param() == "" {
		return "failed " + fe.Tag()
	}
	return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
}

// Dump writes cfg as YAML, the same shape a config file takes.
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
