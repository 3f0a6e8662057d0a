package util

import (
	"github.com/berfenger/broute2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Device:            "/dev/null",
			BaudRate:          115200,
			ReadTimeoutMillis: 5000,
		},
		BRoute: config.BRouteConfig{
			ID:                           "00112233445566778899AABBCCDDEEFF",
			Password:                     "0123456789AB",
			ScanStartDuration:            3,
			MaxReadAttempts:              3,
			RetryIntervalMillis:          100,
			RecvWaitCount:                10,
			SendAckWaitCount:             30,
			InvalidateCacheOnJoinFailure: true,
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "broute2mqtt",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Monitor: config.MonitorConfig{
			PollIntervalMillis:     200,
			EnergyCron:             "* * * * * *",
			MaxConsecutiveFailures: 3,
		},
		Log: config.LogConfig{
			Level:  "debug",
			Format: "console",
		},
		Port: 8080,
	}
}
