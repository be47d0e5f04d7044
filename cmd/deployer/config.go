package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Store     StoreConfig     `mapstructure:"store"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig holds the operations HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Token           string        `mapstructure:"token"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RedisConfig holds the queue transport configuration.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

// WorkerConfig holds the queue consumer configuration.
type WorkerConfig struct {
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
	RetryMax    time.Duration `mapstructure:"retry_max"`
	CollectLogs bool          `mapstructure:"collect_logs"`
	LogDelay    time.Duration `mapstructure:"log_delay"`
	PortsLimit  int           `mapstructure:"ports_limit"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host    string `mapstructure:"host"`
	Network string `mapstructure:"network"`
}

// WorkspaceConfig holds the working directory layout.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
	// Host is injected as HOST into every repository.
	Host string `mapstructure:"host"`
}

// ProxyConfig holds the nginx routing configuration.
type ProxyConfig struct {
	Mode           string `mapstructure:"mode"`
	BaseURL        string `mapstructure:"base_url"`
	Domain         string `mapstructure:"domain"`
	UpstreamIP     string `mapstructure:"upstream_ip"`
	IncludesDir    string `mapstructure:"includes_dir"`
	AppsDir        string `mapstructure:"apps_dir"`
	Certificate    string `mapstructure:"certificate"`
	CertificateKey string `mapstructure:"certificate_key"`
	OptionsInclude string `mapstructure:"options_include"`
	DHParam        string `mapstructure:"dhparam"`
	ValidateCmd    string `mapstructure:"validate_cmd"`
	ReloadCmd      string `mapstructure:"reload_cmd"`
	PortRangeStart int    `mapstructure:"port_range_start"`
	PortRangeEnd   int    `mapstructure:"port_range_end"`
}

// EngineConfig holds one shared database engine.
type EngineConfig struct {
	Container     string `mapstructure:"container"`
	Image         string `mapstructure:"image"`
	Port          int    `mapstructure:"port"`
	Volume        string `mapstructure:"volume"`
	AdminUser     string `mapstructure:"admin_user"`
	AdminPassword string `mapstructure:"admin_password"`
}

// DatabasesConfig holds the shared database engines.
type DatabasesConfig struct {
	Ensure       bool         `mapstructure:"ensure"`
	PublicHost   string       `mapstructure:"public_host"`
	SQLCode      string       `mapstructure:"sql_code"`
	DocumentCode string       `mapstructure:"document_code"`
	MySQL        EngineConfig `mapstructure:"mysql"`
	Mongo        EngineConfig `mapstructure:"mongo"`
}

// StoreConfig holds the deployment registry configuration.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HealthConfig holds the registry reconciler configuration.
type HealthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "deployer")
	v.SetDefault("redis.result_ttl", "168h")

	v.SetDefault("worker.poll_timeout", "5s")
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_base", "1s")
	v.SetDefault("worker.retry_max", "30s")
	v.SetDefault("worker.collect_logs", true)
	v.SetDefault("worker.log_delay", "5s")
	v.SetDefault("worker.ports_limit", 0)

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.network", "fireploy_network")

	v.SetDefault("workspace.root", "/home/ubuntu/projects")
	v.SetDefault("workspace.host", "0.0.0.0")

	v.SetDefault("proxy.mode", "path")
	v.SetDefault("proxy.base_url", "https://proyectos.fireploy.online")
	v.SetDefault("proxy.domain", "fireploy.online")
	v.SetDefault("proxy.upstream_ip", "127.0.0.1")
	v.SetDefault("proxy.includes_dir", "/etc/nginx/includes")
	v.SetDefault("proxy.apps_dir", "/etc/nginx/apps")
	v.SetDefault("proxy.certificate", "/etc/letsencrypt/live/fireploy.online/fullchain.pem")
	v.SetDefault("proxy.certificate_key", "/etc/letsencrypt/live/fireploy.online/privkey.pem")
	v.SetDefault("proxy.options_include", "/etc/letsencrypt/options-ssl-nginx.conf")
	v.SetDefault("proxy.dhparam", "/etc/letsencrypt/ssl-dhparams.pem")
	v.SetDefault("proxy.validate_cmd", "nginx -t")
	v.SetDefault("proxy.reload_cmd", "systemctl reload nginx")
	v.SetDefault("proxy.port_range_start", 9001)
	v.SetDefault("proxy.port_range_end", 65535)

	v.SetDefault("databases.ensure", true)
	v.SetDefault("databases.public_host", "localhost")
	v.SetDefault("databases.sql_code", "S")
	v.SetDefault("databases.document_code", "N")
	v.SetDefault("databases.mysql.container", "mysql_container")
	v.SetDefault("databases.mysql.image", "mysql:8")
	v.SetDefault("databases.mysql.port", 3307)
	v.SetDefault("databases.mysql.volume", "mysql_data")
	v.SetDefault("databases.mysql.admin_user", "root")
	v.SetDefault("databases.mysql.admin_password", "")
	v.SetDefault("databases.mongo.container", "mongo_container")
	v.SetDefault("databases.mongo.image", "mongo:7")
	v.SetDefault("databases.mongo.port", 27018)
	v.SetDefault("databases.mongo.volume", "mongo_data")
	v.SetDefault("databases.mongo.admin_user", "admin")
	v.SetDefault("databases.mongo.admin_password", "")

	v.SetDefault("store.dsn", "./data/deployer.db")

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.interval", "60s")
	v.SetDefault("health.timeout", "10s")
	v.SetDefault("health.max_concurrent", 5)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken one is an error.
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("DEPLOYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// A data dir places the registry under it unless a DSN is explicit.
	if dataDir := os.Getenv("DEPLOYER_DATA_DIR"); dataDir != "" && os.Getenv("DEPLOYER_STORE_DSN") == "" {
		cfg.Store.DSN = filepath.Join(dataDir, "deployer.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the worker cannot start with.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return errors.New("workspace.root is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Proxy.PortRangeStart <= 0 || c.Proxy.PortRangeEnd > 65535 || c.Proxy.PortRangeStart > c.Proxy.PortRangeEnd {
		return fmt.Errorf("invalid proxy port range %d-%d", c.Proxy.PortRangeStart, c.Proxy.PortRangeEnd)
	}
	if strings.TrimSpace(c.Proxy.ValidateCmd) == "" || strings.TrimSpace(c.Proxy.ReloadCmd) == "" {
		return errors.New("proxy.validate_cmd and proxy.reload_cmd are required")
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
