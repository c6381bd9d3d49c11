package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"dbhub/internal/logger"
	"dbhub/internal/validator"

	"github.com/spf13/viper"
)

// Config is the complete pool manager configuration. It is immutable after
// Load: the manager and adapters only ever read it.
type Config struct {
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	MongoDB     MongoConfig       `mapstructure:"mongodb"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Performance PerformanceConfig `mapstructure:"performance"`
	API         APIConfig         `mapstructure:"api"`
	Log         logger.Config     `mapstructure:"log"`
}

// PostgresConfig represents PostgreSQL backend configuration
type PostgresConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"min=0,max=65535"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	SSLMode        string        `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns       int32         `mapstructure:"max_conns"`
	MinConns       int32         `mapstructure:"min_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// DSN builds the PostgreSQL connection URL.
func (c *PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// MySQLConfig represents MySQL/MariaDB backend configuration
type MySQLConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=0,max=65535"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// Addr returns the host:port address.
func (c *MySQLConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MongoConfig represents MongoDB backend configuration
type MongoConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
	MinPoolSize    uint64        `mapstructure:"min_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// MonitoringConfig represents metric collection and alerting configuration
type MonitoringConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	Interval              time.Duration `mapstructure:"interval"`
	SlowQueryThreshold    time.Duration `mapstructure:"slow_query_threshold"`
	ConnectionLeakTimeout time.Duration `mapstructure:"connection_leak_timeout"`
	MetricsRetention      time.Duration `mapstructure:"metrics_retention"`
	AlertSweepInterval    time.Duration `mapstructure:"alert_sweep_interval"`
	HistorySize           int           `mapstructure:"history_size"`
	Thresholds            Thresholds    `mapstructure:"thresholds"`
}

// Thresholds maps named observation metrics to alerting thresholds.
// Durations are expressed in milliseconds, rates in percent.
type Thresholds struct {
	CPUUsage            float64 `mapstructure:"cpu_usage"`
	MemoryUsage         float64 `mapstructure:"memory_usage"`
	HTTPRequestDuration float64 `mapstructure:"http_request_duration"`
	DatabaseQueryTime   float64 `mapstructure:"database_query_time"`
	ErrorRate           float64 `mapstructure:"error_rate"`
	ConnectionCount     float64 `mapstructure:"connection_count"`
}

// PerformanceConfig represents performance feature toggles
type PerformanceConfig struct {
	QueryOptimization  bool          `mapstructure:"query_optimization"`
	ConnectionReuse    bool          `mapstructure:"connection_reuse"`
	PreparedStatements bool          `mapstructure:"prepared_statements"`
	MaxIdleTime        time.Duration `mapstructure:"max_idle_time"`
}

// APIConfig represents the status API configuration
type APIConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Address     string `mapstructure:"address" validate:"omitempty,hostname_port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// Load reads configuration from the given file (or the default search path)
// plus DBHUB_* environment variables, applies defaults and validates.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dbhub")
	}

	v.SetEnvPrefix("DBHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults applies default values
func (c *Config) SetDefaults() {
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 25
	}
	if c.Postgres.MinConns == 0 {
		c.Postgres.MinConns = 2
	}
	if c.Postgres.ConnectTimeout == 0 {
		c.Postgres.ConnectTimeout = 10 * time.Second
	}
	if c.Postgres.IdleTimeout == 0 {
		c.Postgres.IdleTimeout = 5 * time.Minute
	}

	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 25
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 5
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = time.Hour
	}
	if c.MySQL.ConnectTimeout == 0 {
		c.MySQL.ConnectTimeout = 10 * time.Second
	}

	if c.MongoDB.MaxPoolSize == 0 {
		c.MongoDB.MaxPoolSize = 100
	}
	if c.MongoDB.ConnectTimeout == 0 {
		c.MongoDB.ConnectTimeout = 10 * time.Second
	}

	if c.Monitoring.Interval == 0 {
		c.Monitoring.Interval = 30 * time.Second
	}
	if c.Monitoring.SlowQueryThreshold == 0 {
		c.Monitoring.SlowQueryThreshold = time.Second
	}
	if c.Monitoring.ConnectionLeakTimeout == 0 {
		c.Monitoring.ConnectionLeakTimeout = 30 * time.Second
	}
	if c.Monitoring.MetricsRetention == 0 {
		c.Monitoring.MetricsRetention = 7 * 24 * time.Hour
	}
	if c.Monitoring.AlertSweepInterval == 0 {
		c.Monitoring.AlertSweepInterval = time.Minute
	}
	if c.Monitoring.HistorySize == 0 {
		c.Monitoring.HistorySize = 10000
	}

	t := &c.Monitoring.Thresholds
	if t.CPUUsage == 0 {
		t.CPUUsage = 80
	}
	if t.MemoryUsage == 0 {
		t.MemoryUsage = 85
	}
	if t.HTTPRequestDuration == 0 {
		t.HTTPRequestDuration = 1000
	}
	if t.DatabaseQueryTime == 0 {
		t.DatabaseQueryTime = 1000
	}
	if t.ErrorRate == 0 {
		t.ErrorRate = 5
	}
	if t.ConnectionCount == 0 {
		t.ConnectionCount = 100
	}

	if c.Performance.MaxIdleTime == 0 {
		c.Performance.MaxIdleTime = 5 * time.Minute
	}

	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
	if c.API.MetricsPath == "" {
		c.API.MetricsPath = "/metrics"
	}

	c.Log.SetDefaults()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Postgres.Enabled && !c.MySQL.Enabled && !c.MongoDB.Enabled {
		return fmt.Errorf("invalid pool config: at least one database backend must be enabled")
	}

	if c.Postgres.Enabled {
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("invalid postgres config: host and database are required")
		}
	}
	if c.MySQL.Enabled {
		if c.MySQL.Host == "" || c.MySQL.Database == "" {
			return fmt.Errorf("invalid mysql config: host and database are required")
		}
	}
	if c.MongoDB.Enabled {
		if c.MongoDB.URI == "" || c.MongoDB.Database == "" {
			return fmt.Errorf("invalid mongodb config: uri and database are required")
		}
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid pool config: %w", err)
	}

	return c.Log.Validate()
}

// EnabledBackends returns the names of enabled backends in initialization order.
func (c *Config) EnabledBackends() []string {
	var out []string
	if c.Postgres.Enabled {
		out = append(out, "postgresql")
	}
	if c.MySQL.Enabled {
		out = append(out, "mysql")
	}
	if c.MongoDB.Enabled {
		out = append(out, "mongodb")
	}
	return out
}
