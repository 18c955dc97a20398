package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestrator
type Config struct {
	Ops           OpsConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Worker        WorkerConfig
	Reconciler    ReconcilerConfig
	Broker        BrokerConfig
	Git           GitConfig
	SCM           SCMConfig
	IaC           IaCConfig
	Plugins       PluginsConfig
	Notifications NotificationsConfig
}

// OpsConfig holds the operational HTTP endpoint configuration
type OpsConfig struct {
	Port     string
	LogLevel string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// WorkerConfig holds task worker configuration
type WorkerConfig struct {
	Concurrency int
}

// ReconcilerConfig holds reconciliation loop configuration
type ReconcilerConfig struct {
	Enabled      bool
	Interval     time.Duration
	StuckTimeout time.Duration
}

// BrokerConfig holds credential broker configuration
type BrokerConfig struct {
	URL   string
	Token string
}

// GitConfig holds Git authentication and author identity
type GitConfig struct {
	Username    string
	Token       string
	AuthorName  string
	AuthorEmail string
}

// SCMConfig holds Git hosting API configuration
type SCMConfig struct {
	URL       string
	Token     string
	RepoOwner string
}

// IaCConfig holds IaC engine configuration
type IaCConfig struct {
	ProjectName      string
	BackendURL       string
	OperationTimeout time.Duration
}

// PluginsConfig holds the plugin catalog location
type PluginsConfig struct {
	Root string
}

// NotificationsConfig holds notification service configuration
type NotificationsConfig struct {
	URL   string
	Token string
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars only
	}

	// Override with environment variables
	viper.AutomaticEnv()

	config := &Config{
		Ops: OpsConfig{
			Port:     viper.GetString("ops.port"),
			LogLevel: viper.GetString("ops.log_level"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetInt("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			DBName:          viper.GetString("database.dbname"),
			SSLMode:         viper.GetString("database.sslmode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL:      viper.GetString("redis.url"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		Reconciler: ReconcilerConfig{
			Enabled:      viper.GetBool("reconciler.enabled"),
			Interval:     viper.GetDuration("reconciler.interval"),
			StuckTimeout: viper.GetDuration("reconciler.stuck_timeout"),
		},
		Broker: BrokerConfig{
			URL:   viper.GetString("broker.url"),
			Token: viper.GetString("broker.token"),
		},
		Git: GitConfig{
			Username:    viper.GetString("git.username"),
			Token:       viper.GetString("git.token"),
			AuthorName:  viper.GetString("git.author_name"),
			AuthorEmail: viper.GetString("git.author_email"),
		},
		SCM: SCMConfig{
			URL:       viper.GetString("scm.url"),
			Token:     viper.GetString("scm.token"),
			RepoOwner: viper.GetString("scm.repo_owner"),
		},
		IaC: IaCConfig{
			ProjectName:      viper.GetString("iac.project_name"),
			BackendURL:       viper.GetString("iac.backend_url"),
			OperationTimeout: viper.GetDuration("iac.operation_timeout"),
		},
		Plugins: PluginsConfig{
			Root: viper.GetString("plugins.root"),
		},
		Notifications: NotificationsConfig{
			URL:   viper.GetString("notifications.url"),
			Token: viper.GetString("notifications.token"),
		},
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Ops defaults
	viper.SetDefault("ops.port", "3001")
	viper.SetDefault("ops.log_level", "info")

	// Database defaults
	viper.SetDefault("database.host", "127.0.0.1")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "orchestrator")
	viper.SetDefault("database.password", "orchestrator_dev_password")
	viper.SetDefault("database.dbname", "stack_orchestrator")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Redis defaults
	viper.SetDefault("redis.url", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Worker defaults
	viper.SetDefault("worker.concurrency", 3)

	// Reconciler defaults
	viper.SetDefault("reconciler.enabled", true)
	viper.SetDefault("reconciler.interval", 5*time.Minute)
	viper.SetDefault("reconciler.stuck_timeout", time.Hour)

	// Broker defaults
	viper.SetDefault("broker.url", "")
	viper.SetDefault("broker.token", "")

	// Git defaults
	viper.SetDefault("git.username", "stack-orchestrator")
	viper.SetDefault("git.token", "")
	viper.SetDefault("git.author_name", "Stack Orchestrator")
	viper.SetDefault("git.author_email", "orchestrator@localhost")

	// SCM defaults
	viper.SetDefault("scm.url", "")
	viper.SetDefault("scm.token", "")
	viper.SetDefault("scm.repo_owner", "deployments")

	// IaC defaults
	viper.SetDefault("iac.project_name", "stack-orchestrator")
	viper.SetDefault("iac.backend_url", "")
	viper.SetDefault("iac.operation_timeout", 30*time.Minute)

	// Plugins defaults
	viper.SetDefault("plugins.root", "plugins")

	// Notifications defaults
	viper.SetDefault("notifications.url", "")
	viper.SetDefault("notifications.token", "")
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}
