package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySql    MySqlConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Runner   RunnerConfig   `mapstructure:"runner"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	NodeId string `mapstructure:"node_id"`
}

type MySqlConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	HotDir         string        `mapstructure:"hot_dir"`
	ColdDir        string        `mapstructure:"cold_dir"`
	InputsBucket   string        `mapstructure:"inputs_bucket"`
	ResultsBucket  string        `mapstructure:"results_bucket"`
	ExpeditedSlots int           `mapstructure:"expedited_slots"`
	ExpeditedDelay time.Duration `mapstructure:"expedited_delay"`
	StandardDelay  time.Duration `mapstructure:"standard_delay"`
}

type QueueConfig struct {
	KeyPrefix         string        `mapstructure:"key_prefix"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	MaxMessages       int           `mapstructure:"max_messages"`
	ReaperInterval    time.Duration `mapstructure:"reaper_interval"`
	LockerExpiry      time.Duration `mapstructure:"locker_expiry"`
}

// PipelineConfig names the queues and topics wiring the worker roles
// together. A worker knows only its own queue and the topics it publishes
// to; fan-out subscriptions are registered at startup.
type PipelineConfig struct {
	SubmissionTopic   string `mapstructure:"submission_topic"`
	SubmissionQueue   string `mapstructure:"submission_queue"`
	CompletionTopic   string `mapstructure:"completion_topic"`
	CompletionWebhook string `mapstructure:"completion_webhook"`
	ArchiveTopic      string `mapstructure:"archive_topic"`
	ArchiveQueue      string `mapstructure:"archive_queue"`
	RestoreTopic      string `mapstructure:"restore_topic"`
	RestoreQueue      string `mapstructure:"restore_queue"`
	ThawTopic         string `mapstructure:"thaw_topic"`
	ThawQueue         string `mapstructure:"thaw_queue"`
}

type MonitorConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepCron     string        `mapstructure:"sweep_cron"` // overrides sweep_interval when set
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	LeaderKey     string        `mapstructure:"leader_key"`
	LeaderTtl     time.Duration `mapstructure:"leader_ttl"`
	LeaderRenew   time.Duration `mapstructure:"leader_renew"`
	NodeId        string        `mapstructure:"-"` // set from server config, overridable in tests
}

type RunnerConfig struct {
	Command    string        `mapstructure:"command"` // annotation executable, invoked with <input_path> <job_id>
	ScratchDir string        `mapstructure:"scratch_dir"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// cronParser validates the optional sweep expression at load time, with
// optional seconds precision.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var globalConfig *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Durations in the file are plain second counts.
	cfg.Storage.ExpeditedDelay *= time.Second
	cfg.Storage.StandardDelay *= time.Second
	cfg.Queue.VisibilityTimeout *= time.Second
	cfg.Queue.WaitTime *= time.Second
	cfg.Queue.ReaperInterval *= time.Second
	cfg.Queue.LockerExpiry *= time.Second
	cfg.Monitor.SweepInterval *= time.Second
	cfg.Monitor.GracePeriod *= time.Second
	cfg.Monitor.LeaderTtl *= time.Second
	cfg.Monitor.LeaderRenew *= time.Second
	cfg.Runner.Timeout *= time.Second

	applyDefaults(&cfg)

	if cfg.Monitor.SweepCron != "" {
		if _, err := cronParser.Parse(cfg.Monitor.SweepCron); err != nil {
			return nil, fmt.Errorf("invalid sweep_cron expression: %w", err)
		}
	}

	if cfg.Server.NodeId == "" {
		hostname, _ := os.Hostname()
		cfg.Server.NodeId = hostname + "-" + uuid.New().String()[:8]
	}
	cfg.Monitor.NodeId = cfg.Server.NodeId

	globalConfig = &cfg
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Queue.VisibilityTimeout <= 0 {
		cfg.Queue.VisibilityTimeout = 30 * time.Second
	}
	if cfg.Queue.WaitTime <= 0 {
		cfg.Queue.WaitTime = 5 * time.Second
	}
	if cfg.Queue.MaxMessages <= 0 {
		cfg.Queue.MaxMessages = 10
	}
	if cfg.Queue.ReaperInterval <= 0 {
		cfg.Queue.ReaperInterval = 10 * time.Second
	}
	if cfg.Queue.LockerExpiry <= 0 {
		cfg.Queue.LockerExpiry = 30 * time.Second
	}
	if cfg.Storage.ExpeditedSlots <= 0 {
		cfg.Storage.ExpeditedSlots = 3
	}
	if cfg.Monitor.SweepInterval <= 0 {
		cfg.Monitor.SweepInterval = 10 * time.Second
	}
	if cfg.Runner.Timeout <= 0 {
		cfg.Runner.Timeout = time.Hour
	}
}

func Get() *Config {
	return globalConfig
}

// SetConfig sets the global config (used for testing)
func SetConfig(cfg *Config) {
	globalConfig = cfg
}
