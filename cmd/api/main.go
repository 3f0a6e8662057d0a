package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/broute2mqtt/internal/adapter/actor"
	"github.com/berfenger/broute2mqtt/internal/config"
	"github.com/berfenger/broute2mqtt/internal/core/actor"
	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/internal/core/service"
	"github.com/berfenger/broute2mqtt/internal/logging"
	"github.com/berfenger/broute2mqtt/internal/metrics"
	"github.com/berfenger/broute2mqtt/internal/server"
	"github.com/berfenger/broute2mqtt/internal/util/actorutil"
	"github.com/berfenger/broute2mqtt/pkg/broute"
	"github.com/berfenger/broute2mqtt/pkg/skstack"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	logger, err := logging.InitLogger(cfg.Log)
	if err != nil {
		slog.Error("logger init error", "error", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// metrics
	registry := metrics.NewRegistry()
	meterMetrics := metrics.NewMeterMetrics(registry)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	// init Meter actor provider
	meterProv, err := meterActorProvider(cfg, meterMetrics, logger)
	if err != nil {
		logger.Fatal("could not create meter reader", zap.Error(err))
	}

	powerFlowLogic := service.NewDefaultPowerFlowLogic(time.Local, logger)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, meterProv, mqttActorProvider(cfg, logger), powerFlowLogic, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Error("could not spawn master actor", zap.Error(err))
		return
	}

	server := server.NewServer(*cfg, ctx, pid, registry)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => BROUTE2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("BROUTE2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("broute2mqtt")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	cfg.LogLevel = config.ParseLogLevel(cfg.Log.Level)

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// B-route credentials
	if cfg.BRoute.ID == "" {
		return nil, errors.New("config param broute.id is required")
	}
	if cfg.BRoute.Password == "" {
		return nil, errors.New("config param broute.password is required")
	}

	// check bounds
	if cfg.Monitor.PollIntervalMillis < 5000 {
		return nil, errors.New("config param monitor.poll_interval_millis should be >= 5000")
	}
	if cfg.Monitor.ReadTimeoutMillis > 0 {
		derived := cfg
		derived.Monitor.ReadTimeoutMillis = 0
		if adactor.MeterReadTimeout(&cfg) < adactor.MeterReadTimeout(&derived) {
			return nil, fmt.Errorf("config param monitor.read_timeout_millis should be >= %d to cover the broute retry settings",
				adactor.MeterReadTimeout(&derived).Milliseconds())
		}
	}
	if cfg.Monitor.EnergyCron != "" {
		if _, err := quartz.NewCronTrigger(cfg.Monitor.EnergyCron); err != nil {
			return nil, fmt.Errorf("config param monitor.energy_cron is invalid: %w", err)
		}
	}

	return &cfg, nil
}

func meterActorProvider(cfg *config.Config, m *metrics.MeterMetrics, logger *zap.Logger) (actor.MeterActorProvider, error) {

	reader, err := broute.CreateBRouteMeterReader(skstack.PortOptions{
		Device:      cfg.Serial.Device,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: time.Duration(cfg.Serial.ReadTimeoutMillis) * time.Millisecond,
	}, broute.ReaderOptions{
		Credentials: broute.Credentials{
			ID:       cfg.BRoute.ID,
			Password: cfg.BRoute.Password,
		},
		Session: broute.SessionOptions{
			ScanStartDuration: cfg.BRoute.ScanStartDuration,
			MaxReadAttempts:   cfg.BRoute.MaxReadAttempts,
			RetryInterval:     time.Duration(cfg.BRoute.RetryIntervalMillis) * time.Millisecond,
			RecvWaitCount:     cfg.BRoute.RecvWaitCount,
		},
		PanCacheFile:                 cfg.BRoute.PanCacheFile,
		SendAckWaitCount:             cfg.BRoute.SendAckWaitCount,
		InvalidateCacheOnJoinFailure: cfg.BRoute.InvalidateCacheOnJoinFailure,
	}, logger, m.ModemInstrument())

	if err != nil {
		return nil, err
	}

	return func() *adactor.MeterActor {
		return adactor.NewMeterActor(reader, adactor.MeterActorOptions{
			MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
			ReadTimeout:            adactor.MeterReadTimeout(cfg),
			Metrics:                m,
		}, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.file.filename", "")
	viper.SetDefault("log.file.max_size_mb", 10)
	viper.SetDefault("log.file.max_backups", 3)
	viper.SetDefault("log.file.max_age_days", 28)
	viper.SetDefault("log.file.compress", false)
	viper.SetDefault("serial.device", "/dev/ttyS0")
	viper.SetDefault("serial.baud_rate", 115200)
	viper.SetDefault("serial.read_timeout_millis", 5000)
	viper.SetDefault("broute.id", "")
	viper.SetDefault("broute.password", "")
	viper.SetDefault("broute.pan_cache_file", "")
	viper.SetDefault("broute.scan_start_duration", 3)
	viper.SetDefault("broute.max_read_attempts", 10)
	viper.SetDefault("broute.retry_interval_millis", 1000)
	viper.SetDefault("broute.recv_wait_count", 10)
	viper.SetDefault("broute.send_ack_wait_count", 30)
	viper.SetDefault("broute.invalidate_cache_on_join_failure", true)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "broute2mqtt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("monitor.poll_interval_millis", 10000)
	viper.SetDefault("monitor.energy_cron", "0 */30 * * * *")
	viper.SetDefault("monitor.max_consecutive_failures", 5)
	viper.SetDefault("monitor.read_current", false)
	viper.SetDefault("monitor.read_timeout_millis", 0)
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.BRoute.ID = "*redacted*"
	cfg.BRoute.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
