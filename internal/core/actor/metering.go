package actor

import (
	"errors"
	"fmt"
	"time"

	adactor "github.com/berfenger/broute2mqtt/internal/adapter/actor"
	"github.com/berfenger/broute2mqtt/internal/config"
	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/internal/core/events"
	"github.com/berfenger/broute2mqtt/internal/core/port"
	. "github.com/berfenger/broute2mqtt/internal/util/actorutil"
	"github.com/berfenger/broute2mqtt/pkg/broute"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// MeteringActor polls the meter actor and turns readings into sensor events.
type MeteringActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	meterActor     *actor.PID
	config         *config.Config
	eventStream    *eventstream.EventStream
	logic          port.PowerFlowLogic
	energyTrigger  *quartz.CronTrigger
	requestTimeout time.Duration
	linkUp         *bool
	// set once the meter answers that it has no E8
	currentUnavailable bool

	logger *zap.Logger
}

type meteringTick struct {
}

type energyTick struct {
}

func NewMeteringActor(config *config.Config, meterActor *actor.PID, eventStream *eventstream.EventStream,
	logic port.PowerFlowLogic, logger *zap.Logger) *MeteringActor {
	act := &MeteringActor{
		config:         config,
		meterActor:     meterActor,
		behavior:       actor.NewBehavior(),
		stash:          &Stash{},
		logger:         ActorLogger(domain.ACTOR_ID_METERING, logger),
		eventStream:    eventStream,
		logic:          logic,
		requestTimeout: adactor.MeterRequestTimeout(config),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeteringActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeteringActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("metering@starting started")

		state.scheduler = scheduler.NewTimerScheduler(ctx)
		if state.config.Monitor.PollIntervalMillis > 0 {
			state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), meteringTick{})
		}
		if state.config.Monitor.EnergyCron != "" {
			trigger, err := quartz.NewCronTrigger(state.config.Monitor.EnergyCron)
			if err != nil {
				state.logger.Error("metering@starting invalid energy cron", zap.String("cron", state.config.Monitor.EnergyCron), zap.Error(err))
			} else {
				state.energyTrigger = trigger
				state.scheduleEnergyTick(ctx)
			}
		}

		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetMeterInfoRequest{}, state.requestTimeout), func(err error) any {
			return domain.GetMeterInfoResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.Become(state.WaitingInfoReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("metering@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeteringActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetMeterInfoResponse:
		if msg.HasResponseError() {
			state.logger.Error("metering@waitingInfo GetMeterInfoResponse", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Debug("metering@waitingInfo GetMeterInfoResponse", zap.String("channel", msg.Info.Channel))
			state.publish(events.MeterInfoUpdateEvents(msg.Info))
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("metering@waitingInfo: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeteringActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("metering@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METERING,
			Healthy: true,
			State:   "idle",
		})
	case meteringTick:
		state.logger.Debug("metering@default tick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetInstantaneousPowerRequest{}, state.requestTimeout), func(err error) any {
			return domain.GetInstantaneousPowerResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		if state.config.Monitor.ReadCurrent && !state.currentUnavailable {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetInstantaneousCurrentRequest{}, state.requestTimeout), func(err error) any {
				return domain.GetInstantaneousCurrentResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
		}
		// schedule next tick
		state.scheduler.RequestOnce(state.pollInterval(), ctx.Self(), meteringTick{})
		state.behavior.BecomeStacked(state.WaitingPowerReceive)
	case energyTick:
		state.logger.Debug("metering@default energy tick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetCumulativeEnergyRequest{}, state.requestTimeout), func(err error) any {
			return domain.GetCumulativeEnergyResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.scheduleEnergyTick(ctx)
	case domain.GetCumulativeEnergyResponse:
		if msg.HasResponseError() {
			state.logger.Warn("metering@default GetCumulativeEnergyResponse error", zap.Error(msg.GetResponseError()))
			return
		}
		state.logger.Debug("metering@default GetCumulativeEnergyResponse", zap.Float64("kwh", msg.KWh))
		state.publish(events.CumulativeEnergyUpdateEvents(msg.KWh))
	case domain.GetInstantaneousCurrentResponse:
		if msg.HasResponseError() {
			if errors.Is(msg.GetResponseError(), broute.ErrPropertyNotAvailable) {
				state.logger.Info("metering@default meter has no instantaneous current, not polling it")
				state.currentUnavailable = true
				return
			}
			state.logger.Warn("metering@default GetInstantaneousCurrentResponse error", zap.Error(msg.GetResponseError()))
			return
		}
		state.logger.Debug("metering@default GetInstantaneousCurrentResponse", zap.Float64("r", msg.Current.R), zap.Float64("t", msg.Current.T))
		state.publish(events.CurrentUpdateEvents(msg.Current))
	default:
		state.logger.Debug("metering@default: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeteringActor) WaitingPowerReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetInstantaneousPowerResponse:
		if msg.HasResponseError() {
			state.logger.Error("metering@waiting GetInstantaneousPowerResponse error", zap.Error(msg.GetResponseError()))
			state.setLink(false)
		} else {
			state.logger.Debug("metering@waiting GetInstantaneousPowerResponse", zap.Uint32("raw", msg.Raw))
			state.setLink(true)
			state.publish(events.PowerFlowToUpdateEvents(state.logic.Update(msg.Raw, time.Now())))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METERING,
			Healthy: true,
			State:   "waiting",
		})
	default:
		state.logger.Debug("metering@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeteringActor) scheduleEnergyTick(ctx actor.Context) {
	if state.energyTrigger == nil {
		return
	}
	now := time.Now()
	next, err := state.energyTrigger.NextFireTime(now.UnixNano())
	if err != nil {
		state.logger.Error("metering: no next energy read", zap.Error(err))
		return
	}
	delay := time.Duration(next - now.UnixNano())
	state.logger.Debug("metering: next energy read", zap.Duration("in", delay))
	state.scheduler.RequestOnce(delay, ctx.Self(), energyTick{})
}

// setLink publishes the meter link state on the first reading and on changes.
func (state *MeteringActor) setLink(up bool) {
	if state.linkUp != nil && *state.linkUp == up {
		return
	}
	state.linkUp = &up
	state.eventStream.Publish(events.MeterConnectionUpdateEvent(up))
}

func (state *MeteringActor) publish(evs []any) {
	for _, ev := range evs {
		state.eventStream.Publish(ev)
	}
}

func (state *MeteringActor) pollInterval() time.Duration {
	return time.Duration(state.config.Monitor.PollIntervalMillis) * time.Millisecond
}
