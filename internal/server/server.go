package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/broute2mqtt/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
)

type Server struct {
	port          uint
	httpLog       bool
	healthTimeout time.Duration
	rootContext   *actor.RootContext
	masterActor   *actor.PID
	registry      *prometheus.Registry
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, registry *prometheus.Registry) *http.Server {
	NewServer := &Server{
		port:          cfg.Port,
		rootContext:   rootContext,
		masterActor:   masterActor,
		registry:      registry,
		httpLog:       cfg.HttpLog,
		healthTimeout: DEFAULT_HEALTH_TIMEOUT,
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
