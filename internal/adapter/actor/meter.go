package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/broute2mqtt/internal/config"
	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/internal/metrics"
	"github.com/berfenger/broute2mqtt/internal/util/actorutil"
	"github.com/berfenger/broute2mqtt/pkg/broute"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	DEFAULT_MAX_CONSECUTIVE_FAILURES = 5
	// slack on top of the session read budget
	READ_TIMEOUT_MARGIN = 5 * time.Second
	INFO_TIMEOUT        = 2 * time.Second
	// coefficient, unit and value on the first energy read of a session
	ENERGY_READ_PROPERTIES = 3
)

var ErrTooManyFailures = errors.New("too many consecutive meter read failures")

type MeterActorOptions struct {
	MaxConsecutiveFailures uint
	ReadTimeout            time.Duration
	Metrics                *metrics.MeterMetrics
}

// MeterActor owns the meter reader and serializes access to it.
type MeterActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	reader   broute.EnergyMeterReader
	opts     MeterActorOptions
	failures uint
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
	failed  bool
}

// MeterReadTimeout is how long the actor waits for one reading. It covers the
// whole retry budget of the session, so a read is never abandoned while it
// still holds the session. monitor.read_timeout_millis overrides it.
func MeterReadTimeout(cfg *config.Config) time.Duration {
	if cfg.Monitor.ReadTimeoutMillis > 0 {
		return time.Duration(cfg.Monitor.ReadTimeoutMillis) * time.Millisecond
	}
	budget := broute.ReadBudget(broute.SessionOptions{
		MaxReadAttempts: cfg.BRoute.MaxReadAttempts,
		RetryInterval:   time.Duration(cfg.BRoute.RetryIntervalMillis) * time.Millisecond,
		RecvWaitCount:   cfg.BRoute.RecvWaitCount,
	}, time.Duration(cfg.Serial.ReadTimeoutMillis)*time.Millisecond, cfg.BRoute.SendAckWaitCount)
	return budget + READ_TIMEOUT_MARGIN
}

// MeterRequestTimeout bounds a request to the meter actor. A request may
// queue behind an energy read and a current read before its own read runs.
func MeterRequestTimeout(cfg *config.Config) time.Duration {
	return (ENERGY_READ_PROPERTIES + 2) * MeterReadTimeout(cfg)
}

func NewMeterActor(reader broute.EnergyMeterReader, opts MeterActorOptions, logger *zap.Logger) *MeterActor {
	if opts.MaxConsecutiveFailures == 0 {
		opts.MaxConsecutiveFailures = DEFAULT_MAX_CONSECUTIVE_FAILURES
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = broute.ReadBudget(broute.DefaultSessionOptions(), 0, 0) + READ_TIMEOUT_MARGIN
	}
	act := &MeterActor{
		reader:   reader,
		opts:     opts,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")
		// scan (or cache hit) and join; a failure leaves the retry to the supervisor
		if err := state.reader.Open(); err != nil {
			state.logger.Error("meter@starting could not open meter session", zap.Error(err))
			state.setConnected(false)
			panic(err)
		}
		state.setConnected(true)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("meter@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetMeterInfoRequest:
		state.logger.Debug("meter@default: GetMeterInfoRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getMeterInfo),
			mapTaskResult[domain.GetMeterInfoResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetMeterInfoResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(INFO_TIMEOUT).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.GetInstantaneousPowerRequest:
		state.logger.Debug("meter@default: GetInstantaneousPowerRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getInstantaneousPower),
			mapTaskResult[domain.GetInstantaneousPowerResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetInstantaneousPowerResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
				failed:  true,
			}
		}).WithTimeout(state.opts.ReadTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.GetCumulativeEnergyRequest:
		state.logger.Debug("meter@default: GetCumulativeEnergyRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getCumulativeEnergy),
			mapTaskResult[domain.GetCumulativeEnergyResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetCumulativeEnergyResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
				failed:  true,
			}
		}).WithTimeout(ENERGY_READ_PROPERTIES * state.opts.ReadTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.GetInstantaneousCurrentRequest:
		state.logger.Debug("meter@default: GetInstantaneousCurrentRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getInstantaneousCurrent),
			mapTaskResult[domain.GetInstantaneousCurrentResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetInstantaneousCurrentResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
				// meters without E8 are not failing
				failed: !errors.Is(err, broute.ErrPropertyNotAvailable),
			}
		}).WithTimeout(state.opts.ReadTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("meter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingMeter(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("meter@WaitingMeter backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		if msg.failed {
			state.failures++
			if state.failures >= state.opts.MaxConsecutiveFailures {
				state.logger.Error("meter@WaitingMeter giving up on session", zap.Uint("failures", state.failures))
				state.setConnected(false)
				panic(ErrTooManyFailures)
			}
		} else {
			state.failures = 0
		}
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   "reading",
		})
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("meter@WaitingMeter stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (a *MeterActor) getMeterInfo() (*domain.GetMeterInfoResponse, error) {
	info, err := a.reader.GetInfo()
	if err != nil {
		a.logger.Error("meter: could not get meter info", zap.Error(err))
		return nil, err
	}
	return &domain.GetMeterInfoResponse{
		Info: info,
	}, nil
}

func (a *MeterActor) getInstantaneousPower() (*domain.GetInstantaneousPowerResponse, error) {
	raw, err := a.reader.GetInstantaneousPower()
	a.observeRead(metrics.PROPERTY_INSTANTANEOUS_POWER, err)
	if err != nil {
		a.logger.Error("meter: instantaneous power read failed", zap.Error(err))
		return nil, err
	}
	if a.opts.Metrics != nil {
		a.opts.Metrics.InstantaneousPower.Set(float64(int32(raw)))
	}
	return &domain.GetInstantaneousPowerResponse{
		Raw: raw,
	}, nil
}

func (a *MeterActor) getCumulativeEnergy() (*domain.GetCumulativeEnergyResponse, error) {
	kwh, err := a.reader.GetCumulativeEnergy()
	a.observeRead(metrics.PROPERTY_CUMULATIVE_ENERGY, err)
	if err != nil {
		a.logger.Error("meter: cumulative energy read failed", zap.Error(err))
		return nil, err
	}
	return &domain.GetCumulativeEnergyResponse{
		KWh: kwh,
	}, nil
}

func (a *MeterActor) getInstantaneousCurrent() (*domain.GetInstantaneousCurrentResponse, error) {
	current, err := a.reader.GetInstantaneousCurrent()
	a.observeRead(metrics.PROPERTY_INSTANTANEOUS_CURRENT, err)
	if err != nil {
		a.logger.Error("meter: instantaneous current read failed", zap.Error(err))
		return nil, err
	}
	return &domain.GetInstantaneousCurrentResponse{
		Current: current,
	}, nil
}

func (a *MeterActor) observeRead(property string, err error) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.ObserveRead(property, err)
	}
}

func (a *MeterActor) setConnected(connected bool) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.SetConnected(connected)
	}
}

func (a *MeterActor) close() {
	a.logger.Debug("meter: close session")
	if err := a.reader.Close(); err != nil {
		a.logger.Warn("meter: close failed", zap.Error(err))
	}
	a.setConnected(false)
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
