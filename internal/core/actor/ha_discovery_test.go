package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/broute2mqtt/internal/adapter/actor"
	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/internal/util"
	"github.com/berfenger/broute2mqtt/internal/util/actorutil"
	"github.com/berfenger/broute2mqtt/pkg/broute"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHADiscoveryActor(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := &eventstream.EventStream{}
	rec := newRecordedPublishes()
	reader, _ := broute.CreateTestEnergyMeterReader()

	meterPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewMeterActor(reader, adactor.MeterActorOptions{}, logger)
	}))
	mqttPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActorWithSink(&cfg, es, rec.sink, logger)
	}))
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&cfg, meterPID, mqttPID, logger)
	}))

	meter := domain.MeterDevice(&broute.MeterInfo{Addr: "001C6400030C12A4"})
	powerTopic := "homeassistant/sensor/" + meter.Id + "/meter_power_flow/config"
	energyTopic := "homeassistant/sensor/" + meter.Id + "/meter_total_energy/config"

	assert.Eventually(func() bool {
		return rec.has(powerTopic)
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(rec.has(energyTopic))
	assert.True(rec.has("homeassistant/binary_sensor/" + meter.Id + "/meter_connected/config"))

	// first meter sensor carries the full device, the rest only its id
	payload, _ := rec.get(powerTopic)
	assert.Contains(payload, `"via_device"`)
	payload, _ = rec.get("homeassistant/binary_sensor/" + meter.Id + "/meter_connected/config")
	assert.NotContains(payload, `"via_device"`)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	assert.NoError(err)
	assert.Equal("published 1", result.(domain.ActorHealthResponse).State)

	// Home Assistant restart triggers a republish
	context.Send(pid, adactor.HomeAssistantOnline{})
	assert.Eventually(func() bool {
		result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
		return err == nil && result.(domain.ActorHealthResponse).State == "published 2"
	}, 5*time.Second, 50*time.Millisecond)

	context.Stop(pid)
	as.Shutdown()
}

func TestHADiscoveryWithoutEnergy(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.Monitor.EnergyCron = ""
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := &eventstream.EventStream{}
	rec := newRecordedPublishes()
	reader, _ := broute.CreateTestEnergyMeterReader()

	meterPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewMeterActor(reader, adactor.MeterActorOptions{}, logger)
	}))
	mqttPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActorWithSink(&cfg, es, rec.sink, logger)
	}))
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&cfg, meterPID, mqttPID, logger)
	}))

	meter := domain.MeterDevice(&broute.MeterInfo{Addr: "001C6400030C12A4"})
	assert.Eventually(func() bool {
		return rec.has("homeassistant/sensor/" + meter.Id + "/meter_power_flow/config")
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(rec.has("homeassistant/sensor/" + meter.Id + "/meter_total_energy/config"))

	context.Stop(pid)
	as.Shutdown()
}
