package actor

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/internal/metrics"
	"github.com/berfenger/broute2mqtt/internal/util"
	"github.com/berfenger/broute2mqtt/internal/util/actorutil"
	"github.com/berfenger/broute2mqtt/pkg/broute"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingReader wraps the in memory meter and records session churn.
type countingReader struct {
	broute.TestEnergyMeterReader
	mu     sync.Mutex
	opens  int
	closes int
}

func (r *countingReader) Open() error {
	r.mu.Lock()
	r.opens++
	r.mu.Unlock()
	return r.TestEnergyMeterReader.Open()
}

func (r *countingReader) Close() error {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	return r.TestEnergyMeterReader.Close()
}

func (r *countingReader) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens, r.closes
}

func TestMeterActorReads(t *testing.T) {

	assert := assert.New(t)

	reader, err := broute.CreateTestEnergyMeterReader()
	require.NoError(t, err)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	m := metrics.NewMeterMetrics(prometheus.NewRegistry())
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(reader, MeterActorOptions{Metrics: m}, logger)
	})
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.GetMeterInfoRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	info := result.(domain.GetMeterInfoResponse)
	assert.False(info.HasResponseError())
	assert.Equal("001C6400030C12A4", info.Info.Addr)
	assert.Equal("1.2.10", info.Info.ModemVersion)

	result, err = context.RequestFuture(pid, domain.GetInstantaneousPowerRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	power := result.(domain.GetInstantaneousPowerResponse)
	assert.False(power.HasResponseError())
	assert.Equal(uint32(1250), power.Raw)

	result, err = context.RequestFuture(pid, domain.GetCumulativeEnergyRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	energy := result.(domain.GetCumulativeEnergyResponse)
	assert.InDelta(4521.7, energy.KWh, 0.001)

	result, err = context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	health := result.(domain.ActorHealthResponse)
	assert.True(health.Healthy)
	assert.Equal(domain.ACTOR_ID_METER, health.Id)

	context.Stop(pid)
	as.Shutdown()
}

func TestMeterActorQueuesConcurrentRequests(t *testing.T) {

	assert := assert.New(t)

	reader, err := broute.CreateTestEnergyMeterReader()
	require.NoError(t, err)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(reader, MeterActorOptions{}, logger)
	}))

	var futures []*actor.Future
	for i := 0; i < 5; i++ {
		futures = append(futures, context.RequestFuture(pid, domain.GetInstantaneousPowerRequest{}, 5*time.Second))
	}
	for _, f := range futures {
		result, err := f.Result()
		require.NoError(t, err)
		assert.Equal(uint32(1250), result.(domain.GetInstantaneousPowerResponse).Raw)
	}

	context.Stop(pid)
	as.Shutdown()
}

func TestMeterActorRestartsAfterFailures(t *testing.T) {

	assert := assert.New(t)

	reader := &countingReader{TestEnergyMeterReader: broute.TestEnergyMeterReader{
		InstantaneousPower: 300,
		ReadError:          errors.New("no response"),
	}}

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, func(reason interface{}) actor.Directive {
		return actor.RestartDirective
	})
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(reader, MeterActorOptions{MaxConsecutiveFailures: 2}, logger)
	}, actor.WithSupervisor(supervisor)))

	for i := 0; i < 2; i++ {
		result, err := context.RequestFuture(pid, domain.GetInstantaneousPowerRequest{}, 5*time.Second).Result()
		require.NoError(t, err)
		resp := result.(domain.GetInstantaneousPowerResponse)
		assert.True(resp.HasResponseError())
	}

	assert.Eventually(func() bool {
		opens, closes := reader.counts()
		return opens == 2 && closes >= 1
	}, 3*time.Second, 50*time.Millisecond, "session reopened after the failure budget ran out")

	context.Stop(pid)
	as.Shutdown()
}

// noCurrentReader is a meter without EPC E8.
type noCurrentReader struct {
	countingReader
}

func (r *noCurrentReader) GetInstantaneousCurrent() (*broute.InstantaneousCurrent, error) {
	return nil, fmt.Errorf("%w: epc E8", broute.ErrPropertyNotAvailable)
}

func TestMeterActorReadsCurrent(t *testing.T) {

	assert := assert.New(t)

	reader := &broute.TestEnergyMeterReader{Current: &broute.InstantaneousCurrent{R: 7.2, SinglePhase: true}}

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(reader, MeterActorOptions{}, logger)
	}))

	result, err := context.RequestFuture(pid, domain.GetInstantaneousCurrentRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.GetInstantaneousCurrentResponse)
	assert.False(resp.HasResponseError())
	assert.Equal(&broute.InstantaneousCurrent{R: 7.2, SinglePhase: true}, resp.Current)

	context.Stop(pid)
	as.Shutdown()
}

func TestMeterActorMissingCurrentIsNotAFailure(t *testing.T) {

	assert := assert.New(t)

	reader := &noCurrentReader{countingReader: countingReader{TestEnergyMeterReader: broute.TestEnergyMeterReader{InstantaneousPower: 300}}}

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(reader, MeterActorOptions{MaxConsecutiveFailures: 1}, logger)
	}))

	for i := 0; i < 3; i++ {
		result, err := context.RequestFuture(pid, domain.GetInstantaneousCurrentRequest{}, 5*time.Second).Result()
		require.NoError(t, err)
		assert.ErrorIs(result.(domain.GetInstantaneousCurrentResponse).GetResponseError(), broute.ErrPropertyNotAvailable)
	}

	result, err := context.RequestFuture(pid, domain.GetInstantaneousPowerRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	assert.Equal(uint32(300), result.(domain.GetInstantaneousPowerResponse).Raw)

	opens, closes := reader.counts()
	assert.Equal(1, opens, "session kept")
	assert.Equal(0, closes)

	context.Stop(pid)
	as.Shutdown()
}

func TestMeterReadTimeout(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	// 3 attempts of (echo + 30 ack lines + 10 receive lines) x 5s + 100ms pause, plus margin
	assert.Equal(615300*time.Millisecond+READ_TIMEOUT_MARGIN, MeterReadTimeout(&cfg))
	assert.Equal(5*MeterReadTimeout(&cfg), MeterRequestTimeout(&cfg))

	// never shorter than what the session may spend on one property
	budget := broute.ReadBudget(broute.SessionOptions{
		MaxReadAttempts: cfg.BRoute.MaxReadAttempts,
		RetryInterval:   time.Duration(cfg.BRoute.RetryIntervalMillis) * time.Millisecond,
		RecvWaitCount:   cfg.BRoute.RecvWaitCount,
	}, time.Duration(cfg.Serial.ReadTimeoutMillis)*time.Millisecond, cfg.BRoute.SendAckWaitCount)
	assert.Greater(MeterReadTimeout(&cfg), budget)

	cfg.Monitor.ReadTimeoutMillis = 90000
	assert.Equal(90*time.Second, MeterReadTimeout(&cfg))
}
