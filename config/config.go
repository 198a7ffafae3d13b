package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
	Parking    ParkingConfig    `yaml:"parking"`
	Timing     TimingConfig     `yaml:"timing"`
	Matching   MatchingConfig   `yaml:"matching"`
	Tariff     TariffConfig     `yaml:"tariff"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// WorkerPoolConfig holds the configuration for the side-effect worker pool. Size counts notice
// workers; controller commands always go through one ordered consumer.
type WorkerPoolConfig struct {
	Size           int `yaml:"size"`
	QueueSize      int `yaml:"queue_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// PushConfig holds the VAPID keys for dashboard web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig points at the broker shared with the gate controller.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Secret   string `yaml:"acl_secret"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ParkingConfig describes the physical lot.
type ParkingConfig struct {
	Capacity    int      `yaml:"capacity"`
	EntryCams   []string `yaml:"entry_cameras"`
	ExitCams    []string `yaml:"exit_cameras"`
	DefaultPin  string   `yaml:"default_entry_pin"`
	DefaultExit string   `yaml:"default_exit_pin"`
}

// TimingConfig holds every reconciliation window, in seconds.
type TimingConfig struct {
	FusionSeconds          int `yaml:"fusion_seconds"`
	DuplicateSeconds       int `yaml:"duplicate_seconds"`
	ReentrySeconds         int `yaml:"reentry_seconds"`
	ExitGraceSeconds       int `yaml:"exit_grace_seconds"`
	GhostDedupSeconds      int `yaml:"ghost_dedup_seconds"`
	GhostStaySeconds       int `yaml:"ghost_stay_seconds"`
	PaymentValiditySeconds int `yaml:"payment_validity_seconds"`
	BadgeCooldownSeconds   int `yaml:"badge_cooldown_seconds"`
	BadgeConfirmSeconds    int `yaml:"badge_confirm_seconds"`
	CameraBadgeSeconds     int `yaml:"camera_badge_seconds"`
	CameraPinSeconds       int `yaml:"camera_pin_seconds"`
	PayAndGoSeconds        int `yaml:"pay_and_go_seconds"`
	EnrollmentSeconds      int `yaml:"enrollment_seconds"`
}

// MatchingConfig holds the fuzzy plate tolerances.
type MatchingConfig struct {
	ExitTolerance      int `yaml:"exit_tolerance"`
	DuplicateTolerance int `yaml:"duplicate_tolerance"`
}

// TariffConfig is the tariff used until an administrator stores one.
type TariffConfig struct {
	FreeMinutes   int     `yaml:"free_minutes"`
	ChunkMinutes  int     `yaml:"chunk_minutes"`
	PricePerChunk float64 `yaml:"price_per_chunk"`
	DailyMax      float64 `yaml:"daily_max"`
}

// RetentionConfig controls the closed-session purge.
type RetentionConfig struct {
	Days               int           `yaml:"days"`
	SweepIntervalHours int           `yaml:"sweep_interval_hours"`
	SweepInterval      time.Duration `yaml:"-"` // Ignored by YAML parser
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns the production configuration. Load decodes the file over it, so keys
// missing from the file keep these values while explicit zeros survive.
func Default() *Config {
	c := &Config{}
	c.Tariff.FreeMinutes = 30
	c.Tariff.PricePerChunk = 0.50
	c.Matching.ExitTolerance = 2
	c.Matching.DuplicateTolerance = 1
	c.ApplyDefaults()
	return c
}

// ApplyDefaults replaces invalid values with their production default. Zero is a valid
// free window, chunk price and plate tolerance, so those only lose negative values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 5
	}
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 5
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}

	if c.WorkerPool.Size <= 0 {
		c.WorkerPool.Size = 1
	}
	if c.WorkerPool.QueueSize <= 0 {
		c.WorkerPool.QueueSize = 64
	}
	if c.WorkerPool.TimeoutSeconds <= 0 {
		c.WorkerPool.TimeoutSeconds = 3
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Parking.Capacity <= 0 {
		c.Parking.Capacity = 10
	}
	if len(c.Parking.EntryCams) == 0 {
		c.Parking.EntryCams = []string{"1", "cam1", "entree"}
	}
	if len(c.Parking.ExitCams) == 0 {
		c.Parking.ExitCams = []string{"2", "cam2", "sortie"}
	}
	if c.Parking.DefaultPin == "" {
		c.Parking.DefaultPin = "1234"
	}
	if c.Parking.DefaultExit == "" {
		c.Parking.DefaultExit = "0000"
	}

	t := &c.Timing
	setDefault(&t.FusionSeconds, 60)
	setDefault(&t.DuplicateSeconds, 300)
	setDefault(&t.ReentrySeconds, 60)
	setDefault(&t.ExitGraceSeconds, 300)
	setDefault(&t.GhostDedupSeconds, 60)
	setDefault(&t.GhostStaySeconds, 86400)
	setDefault(&t.PaymentValiditySeconds, 600)
	setDefault(&t.BadgeCooldownSeconds, 15)
	setDefault(&t.BadgeConfirmSeconds, 60)
	setDefault(&t.CameraBadgeSeconds, 15)
	setDefault(&t.CameraPinSeconds, 60)
	setDefault(&t.PayAndGoSeconds, 300)
	setDefault(&t.EnrollmentSeconds, 30)

	setNonNegative(&c.Matching.ExitTolerance, 2)
	setNonNegative(&c.Matching.DuplicateTolerance, 1)

	setNonNegative(&c.Tariff.FreeMinutes, 30)
	setDefault(&c.Tariff.ChunkMinutes, 15)
	if c.Tariff.PricePerChunk < 0 {
		c.Tariff.PricePerChunk = 0.50
	}
	if c.Tariff.DailyMax <= 0 {
		c.Tariff.DailyMax = 20.0
	}

	setDefault(&c.Retention.Days, 30)
	setDefault(&c.Retention.SweepIntervalHours, 24)
	c.Retention.SweepInterval = time.Duration(c.Retention.SweepIntervalHours) * time.Hour
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setNonNegative(v *int, def int) {
	if *v < 0 {
		*v = def
	}
}
