package actor

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/broute2mqtt/internal/adapter/actor"
	"github.com/berfenger/broute2mqtt/internal/config"
	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/internal/core/service"
	"github.com/berfenger/broute2mqtt/internal/util"
	"github.com/berfenger/broute2mqtt/internal/util/actorutil"
	"github.com/berfenger/broute2mqtt/pkg/broute"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnMetering(t *testing.T, reader broute.EnergyMeterReader, energyCron string, opts ...func(*config.Config)) (*actor.ActorSystem, *recordedPublishes, *actor.PID) {
	t.Helper()

	cfg := util.LoadTestConfig()
	cfg.Monitor.EnergyCron = energyCron
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := &eventstream.EventStream{}
	rec := newRecordedPublishes()

	meterPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewMeterActor(reader, adactor.MeterActorOptions{MaxConsecutiveFailures: 100}, logger)
	}))
	context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActorWithSink(&cfg, es, rec.sink, logger)
	}))
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMeteringActor(&cfg, meterPID, es, service.NewDefaultPowerFlowLogic(nil, logger), logger)
	}))
	return as, rec, pid
}

func TestMeteringActorExport(t *testing.T) {

	assert := assert.New(t)

	// -350 W in two's complement
	reader := &broute.TestEnergyMeterReader{InstantaneousPower: 0xFFFFFEA2}
	as, rec, pid := spawnMetering(t, reader, "")

	assert.Eventually(func() bool {
		return rec.has("broute2mqtt/sensor/meter_export_power/state")
	}, 3*time.Second, 20*time.Millisecond)

	flow, _ := rec.get("broute2mqtt/sensor/meter_power_flow/state")
	assert.Equal("-350", flow)
	export, _ := rec.get("broute2mqtt/sensor/meter_export_power/state")
	assert.Equal("350", export)
	imp, _ := rec.get("broute2mqtt/sensor/meter_import_power/state")
	assert.Equal("0", imp)
	link, _ := rec.get("broute2mqtt/binary_sensor/meter_connected/state")
	assert.Equal("on", link)
	channel, _ := rec.get("broute2mqtt/sensor/meter_channel/state")
	assert.Equal("21", channel)

	// no energy cron, no energy reads
	assert.False(rec.has("broute2mqtt/sensor/meter_total_energy/state"))

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	assert.NoError(err)
	assert.True(result.(domain.ActorHealthResponse).Healthy)

	as.Root.Stop(pid)
	as.Shutdown()
}

func TestMeteringActorEnergyCron(t *testing.T) {

	assert := assert.New(t)

	reader := &broute.TestEnergyMeterReader{InstantaneousPower: 800, CumulativeEnergy: 1234.5}
	as, rec, pid := spawnMetering(t, reader, "* * * * * *")

	assert.Eventually(func() bool {
		return rec.has("broute2mqtt/sensor/meter_total_energy/state")
	}, 3*time.Second, 20*time.Millisecond)

	energy, _ := rec.get("broute2mqtt/sensor/meter_total_energy/state")
	assert.Equal("1234.500", energy)

	as.Root.Stop(pid)
	as.Shutdown()
}

func TestMeteringActorReadFailure(t *testing.T) {

	assert := assert.New(t)

	reader := &broute.TestEnergyMeterReader{ReadError: errors.New("no response")}
	as, rec, pid := spawnMetering(t, reader, "")

	assert.Eventually(func() bool {
		return rec.has("broute2mqtt/binary_sensor/meter_connected/state")
	}, 3*time.Second, 20*time.Millisecond)

	link, _ := rec.get("broute2mqtt/binary_sensor/meter_connected/state")
	assert.Equal("off", link)
	assert.False(rec.has("broute2mqtt/sensor/meter_power_flow/state"))

	as.Root.Stop(pid)
	as.Shutdown()
}

func withCurrent(cfg *config.Config) {
	cfg.Monitor.ReadCurrent = true
}

func TestMeteringActorCurrent(t *testing.T) {

	assert := assert.New(t)

	reader := &broute.TestEnergyMeterReader{InstantaneousPower: 800, Current: &broute.InstantaneousCurrent{R: 12.5, T: 3.1}}
	as, rec, pid := spawnMetering(t, reader, "", withCurrent)

	assert.Eventually(func() bool {
		return rec.has("broute2mqtt/sensor/meter_current_t/state")
	}, 3*time.Second, 20*time.Millisecond)

	r, _ := rec.get("broute2mqtt/sensor/meter_current_r/state")
	assert.Equal("12.5", r)
	tp, _ := rec.get("broute2mqtt/sensor/meter_current_t/state")
	assert.Equal("3.1", tp)

	as.Root.Stop(pid)
	as.Shutdown()
}

func TestMeteringActorCurrentDisabled(t *testing.T) {

	assert := assert.New(t)

	reader := &broute.TestEnergyMeterReader{InstantaneousPower: 800}
	as, rec, pid := spawnMetering(t, reader, "")

	assert.Eventually(func() bool {
		return rec.has("broute2mqtt/sensor/meter_power_flow/state")
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(rec.has("broute2mqtt/sensor/meter_current_r/state"))

	as.Root.Stop(pid)
	as.Shutdown()
}

// singlePhaseNoE8Reader counts current reads and answers that E8 is missing.
type singlePhaseNoE8Reader struct {
	broute.TestEnergyMeterReader
	mu           sync.Mutex
	currentReads int
}

func (r *singlePhaseNoE8Reader) GetInstantaneousCurrent() (*broute.InstantaneousCurrent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentReads++
	return nil, fmt.Errorf("%w: epc E8", broute.ErrPropertyNotAvailable)
}

func (r *singlePhaseNoE8Reader) reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentReads
}

func TestMeteringActorStopsPollingMissingCurrent(t *testing.T) {

	assert := assert.New(t)

	reader := &singlePhaseNoE8Reader{TestEnergyMeterReader: broute.TestEnergyMeterReader{InstantaneousPower: 800}}
	as, rec, pid := spawnMetering(t, reader, "", withCurrent)

	assert.Eventually(func() bool {
		return rec.has("broute2mqtt/sensor/meter_power_flow/state")
	}, 3*time.Second, 20*time.Millisecond)

	// several poll intervals later
	time.Sleep(800 * time.Millisecond)
	assert.Equal(1, reader.reads())
	assert.False(rec.has("broute2mqtt/sensor/meter_current_r/state"))

	as.Root.Stop(pid)
	as.Shutdown()
}
