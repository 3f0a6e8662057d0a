package domain

import "github.com/berfenger/broute2mqtt/pkg/broute"

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_METER        = "meter"
	ACTOR_ID_METERING     = "metering"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetMeterInfoRequest struct {
	ActorRequestMixIn
}

type GetMeterInfoResponse struct {
	ActorResponseMixIn
	Info *broute.MeterInfo
}

type GetInstantaneousPowerRequest struct {
	ActorRequestMixIn
}

// GetInstantaneousPowerResponse carries the raw 32 bit register as sent by the meter.
type GetInstantaneousPowerResponse struct {
	ActorResponseMixIn
	Raw uint32
}

type GetCumulativeEnergyRequest struct {
	ActorRequestMixIn
}

type GetCumulativeEnergyResponse struct {
	ActorResponseMixIn
	KWh float64
}

type GetInstantaneousCurrentRequest struct {
	ActorRequestMixIn
}

type GetInstantaneousCurrentResponse struct {
	ActorResponseMixIn
	Current *broute.InstantaneousCurrent
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
