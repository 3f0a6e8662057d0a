package actor

import (
	"fmt"
	"time"

	adactor "github.com/berfenger/broute2mqtt/internal/adapter/actor"
	"github.com/berfenger/broute2mqtt/internal/config"
	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	HADISCOVERY_RETRY_INTERVAL = 10 * time.Second
)

type HADiscoveryActor struct {
	config             *config.Config
	behavior           actor.Behavior
	stash              *actorutil.Stash
	scheduler          *scheduler.TimerScheduler
	meterActor         *actor.PID
	mqttActor          *actor.PID
	meterActorHealthy  bool
	mqttActorHealthy   bool
	healthyRecv        int
	retryInterval      time.Duration
	discoveryPublished int

	logger *zap.Logger
}

type retryDiscovery struct {
}

func NewHADiscoveryActor(config *config.Config, meterActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:        config,
		meterActor:    meterActor,
		mqttActor:     mqttActor,
		behavior:      actor.NewBehavior(),
		stash:         &actorutil.Stash{},
		retryInterval: HADISCOVERY_RETRY_INTERVAL,
		logger:        actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.checkHealth(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// checkHealth waits for the meter and MQTT actors before asking for meter info.
func (state *HADiscoveryActor) checkHealth(ctx actor.Context) {
	state.healthyRecv = 0
	state.meterActorHealthy = false
	state.mqttActorHealthy = false
	// Meter Actor Request
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: false,
		}
	})
	// MQTT Actor Request
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
	state.behavior.Become(state.WaitingHealthyReceive)
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_METER:
				state.meterActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if state.meterActorHealthy && state.mqttActorHealthy {
				// Ask Meter GetMeterInfoRequest
				actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetMeterInfoRequest{}, adactor.MeterRequestTimeout(state.config)), func(err error) any {
					return domain.GetMeterInfoResponse{
						ActorResponseMixIn: domain.ActorResponseMixIn{
							ResponseError: err,
						},
					}
				})
				state.behavior.Become(state.WaitingInfoReceive)
			} else {
				state.logger.Info("hadiscovery@healthcheck meter or MQTT not ready, retrying", zap.Duration("in", state.retryInterval))
				state.scheduleRetry(ctx)
			}
		}
	case adactor.HomeAssistantOnline:
		// discovery is in progress
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetMeterInfoResponse:
		if msg.HasResponseError() {
			state.logger.Warn("hadiscovery@info GetMeterInfoResponse error", zap.Error(msg.GetResponseError()))
			state.scheduleRetry(ctx)
			return
		}
		state.logger.Debug("hadiscovery@info: GetMeterInfoResponse", zap.Any("response", msg.Info))

		var sensors []domain.GenericSensor

		bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
		sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

		meterDevice := domain.MeterDevice(msg.Info)
		meterDevice.ViaDevice = bridgeDevice.Id
		meterSensors := domain.MeterSensors(meterDevice, state.config.Monitor.EnergyCron != "", state.config.Monitor.ReadCurrent)
		for i := range meterSensors {
			if i > 0 {
				meterSensors[i].Device = domain.IdDevice(meterDevice)
			}
			sensors = append(sensors, meterSensors[i])
		}

		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: sensors,
		}, 5*time.Second), func(err error) any {
			return domain.PublishDiscoveryResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.Become(state.WaitingPublishReceive)
	case adactor.HomeAssistantOnline:
	default:
		state.logger.Debug("hadiscovery@info: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingPublishReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			state.logger.Warn("hadiscovery@publish error", zap.Error(msg.GetResponseError()))
			state.scheduleRetry(ctx)
			return
		}
		state.discoveryPublished++
		state.logger.Info("hadiscovery@publish discovery published")
		state.behavior.Become(state.Done)
		state.stash.UnstashAll(ctx)
	case adactor.HomeAssistantOnline:
	default:
		state.logger.Debug("hadiscovery@publish: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case adactor.HomeAssistantOnline:
		state.logger.Info("hadiscovery@done home assistant online, republishing")
		state.checkHealth(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   fmt.Sprintf("published %d", state.discoveryPublished),
		})
	default:
		state.logger.Debug("hadiscovery@done: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) RetryReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case retryDiscovery:
		state.checkHealth(ctx)
	case adactor.HomeAssistantOnline:
	default:
		state.logger.Debug("hadiscovery@retry: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) scheduleRetry(ctx actor.Context) {
	state.scheduler.RequestOnce(state.retryInterval, ctx.Self(), retryDiscovery{})
	state.behavior.Become(state.RetryReceive)
}
