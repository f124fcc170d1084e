package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log          Logger       `mapstructure:"logger"`
	DB           Database     `mapstructure:"database"`
	API          API          `mapstructure:"api"`
	Dispatcher   Dispatcher   `mapstructure:"dispatcher"`
	Runner       Runner       `mapstructure:"runner"`
	Artifact     Artifact     `mapstructure:"artifact"`
	Monitor      Monitor      `mapstructure:"monitor"`
	Reaper       Reaper       `mapstructure:"reaper"`
	Notification Notification `mapstructure:"notification"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Database struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	TimeZone        string `mapstructure:"time_zone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type API struct {
	Port               int           `mapstructure:"port"`
	BaseURL            string        `mapstructure:"base_url"`
	ClientTimeout      time.Duration `mapstructure:"client_timeout"`
	RateLimitPerSecond float64       `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
}

// Dispatcher sizes the worker pool that runs executions off the request path.
type Dispatcher struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

// Runner controls how artifacts are executed.
//
// ScriptTimeout of zero leaves scripts without a wall-clock budget. Notebooks are
// always bounded by NotebookTimeout.
type Runner struct {
	WorkDir             string        `mapstructure:"work_dir"`
	PythonBin           string        `mapstructure:"python_bin"`
	NotebookCommand     string        `mapstructure:"notebook_command"`
	ScriptTimeout       time.Duration `mapstructure:"script_timeout"`
	NotebookTimeout     time.Duration `mapstructure:"notebook_timeout"`
	InstallDependencies bool          `mapstructure:"install_dependencies"`
	StrictDependencies  bool          `mapstructure:"strict_dependencies"`
	InstallTimeout      time.Duration `mapstructure:"install_timeout"`
	MemoryLimitBytes    uint64        `mapstructure:"memory_limit_bytes"`
	CPULimitSeconds     uint64        `mapstructure:"cpu_limit_seconds"`
	SampleInterval      time.Duration `mapstructure:"sample_interval"`
	RunAsUID            uint32        `mapstructure:"run_as_uid"`
	RunAsGID            uint32        `mapstructure:"run_as_gid"`
}

type Artifact struct {
	Root    string `mapstructure:"root"`
	MaxSize int64  `mapstructure:"max_size"`
}

type Monitor struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type Reaper struct {
	Schedule    string        `mapstructure:"schedule"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type Notification struct {
	Enabled      bool   `mapstructure:"enabled"`
	BotToken     string `mapstructure:"bot_token"`
	ChatID       int64  `mapstructure:"chat_id"`
	MaxPerSecond int    `mapstructure:"max_per_second"`
}

const DefaultMaxArtifactSize = 10 * 1024 * 1024

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "taskrunner")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.time_zone", "UTC")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.log_level", "Warn")

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.client_timeout", 30*time.Second)
	v.SetDefault("api.rate_limit_per_second", 10)
	v.SetDefault("api.rate_limit_burst", 30)

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.queue_size", 64)
	v.SetDefault("dispatcher.submit_timeout", 5*time.Second)

	v.SetDefault("runner.work_dir", "./data/executions")
	v.SetDefault("runner.python_bin", "python3")
	v.SetDefault("runner.notebook_command", "jupyter")
	v.SetDefault("runner.script_timeout", time.Duration(0))
	v.SetDefault("runner.notebook_timeout", 600*time.Second)
	v.SetDefault("runner.install_dependencies", true)
	v.SetDefault("runner.strict_dependencies", false)
	v.SetDefault("runner.install_timeout", 120*time.Second)
	v.SetDefault("runner.memory_limit_bytes", 0)
	v.SetDefault("runner.cpu_limit_seconds", 0)
	v.SetDefault("runner.sample_interval", 500*time.Millisecond)
	v.SetDefault("runner.run_as_uid", 0)
	v.SetDefault("runner.run_as_gid", 0)

	v.SetDefault("artifact.root", "./data/artifacts")
	v.SetDefault("artifact.max_size", DefaultMaxArtifactSize)

	v.SetDefault("monitor.cache_ttl", 10*time.Minute)

	v.SetDefault("reaper.schedule", "@every 1m")
	v.SetDefault("reaper.grace_period", time.Minute)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.bot_token", "")
	v.SetDefault("notification.chat_id", 0)
	v.SetDefault("notification.max_per_second", 1)
}

func Load() (*Config, error) {
	// .env is optional; real environment variables still win over it.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
