package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Serial   SerialConfig  `mapstructure:"serial"`
	BRoute   BRouteConfig  `mapstructure:"broute"`
	MQTT     MQTTConfig    `mapstructure:"mqtt"`
	Monitor  MonitorConfig `mapstructure:"monitor"`
	Log      LogConfig     `mapstructure:"log"`
	Port     uint          `mapstructure:"port"`
	HttpLog  bool          `mapstructure:"http_log"`
}

type SerialConfig struct {
	Device            string
	BaudRate          int    `mapstructure:"baud_rate"`
	ReadTimeoutMillis uint32 `mapstructure:"read_timeout_millis"`
}

type BRouteConfig struct {
	ID                           string `mapstructure:"id"`
	Password                     string
	PanCacheFile                 string `mapstructure:"pan_cache_file"`
	ScanStartDuration            int    `mapstructure:"scan_start_duration"`
	MaxReadAttempts              int    `mapstructure:"max_read_attempts"`
	RetryIntervalMillis          uint32 `mapstructure:"retry_interval_millis"`
	RecvWaitCount                int    `mapstructure:"recv_wait_count"`
	SendAckWaitCount             int    `mapstructure:"send_ack_wait_count"`
	InvalidateCacheOnJoinFailure bool   `mapstructure:"invalidate_cache_on_join_failure"`
}

type MonitorConfig struct {
	PollIntervalMillis     uint32 `mapstructure:"poll_interval_millis"`
	EnergyCron             string `mapstructure:"energy_cron"`
	MaxConsecutiveFailures uint   `mapstructure:"max_consecutive_failures"`
	ReadCurrent            bool   `mapstructure:"read_current"`
	// 0 derives the timeout from the B-route retry settings
	ReadTimeoutMillis uint32 `mapstructure:"read_timeout_millis"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type LogConfig struct {
	Level  string
	Format string
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the rotating log file. An empty Filename disables it.
type LogFileConfig struct {
	Filename   string
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// ParseLogLevel maps a level name onto zap, falling back to info.
func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
