package mqtt

import (
	"testing"

	"github.com/berfenger/broute2mqtt/internal/config"
	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/pkg/broute"

	"github.com/stretchr/testify/assert"
)

func testClient() *MQTTClient {
	cfg := config.Config{MQTT: config.MQTTConfig{
		Host:             "localhost",
		Port:             1883,
		BaseTopic:        "broute2mqtt",
		HADiscoveryTopic: "hass",
	}}
	return CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)
}

func TestHAStatusParse(t *testing.T) {

	assert := assert.New(t)

	online, err := parseHAStatus("homeassistant/status", "homeassistant/status", []byte("online"))
	assert.NoError(err)
	assert.True(online)

	online, err = parseHAStatus("homeassistant/status", "homeassistant/status", []byte("offline"))
	assert.NoError(err)
	assert.False(online)
}

func TestHAStatusParseFail(t *testing.T) {

	assert := assert.New(t)

	_, err := parseHAStatus("homeassistant/status", "broute2mqtt/bridge/state", []byte("online"))
	assert.ErrorIs(err, ErrNotHAStatus)
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	assert.Equal("broute2mqtt/bridge/state", c.BridgeStateTopic())
	assert.Equal("broute2mqtt/sensor/meter_power_flow/state", c.SensorStateTopic(domain.SENSOR_ID_METER_POWER_FLOW))
	assert.Equal("broute2mqtt/binary_sensor/meter_connected/state", c.BinarySensorStateTopic(domain.SENSOR_ID_METER_CONNECTED))
	assert.Equal("hass/status", c.HAStatusTopic())
}

func TestClientIDIsUnique(t *testing.T) {

	assert := assert.New(t)

	a, b := clientID(), clientID()
	assert.NotEqual(a, b)
	assert.Len(a, len("broute2mqtt_")+12)
}

func TestMeterSensorDiscovery(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	meter := domain.MeterDevice(&broute.MeterInfo{Addr: "001C6400030C12A4", ModemVersion: "1.2.10"})
	sensors := domain.MeterSensors(meter, true, false)

	var power, link domain.GenericSensor
	for _, s := range sensors {
		switch s.Id {
		case domain.SENSOR_ID_METER_POWER_FLOW:
			power = s
		case domain.SENSOR_ID_METER_CONNECTED:
			link = s
		}
	}

	msg := GenericSensorToHADiscoveryMessage(c, power)
	assert.Equal("broute2mqtt/sensor/meter_power_flow/state", msg.StateTopic)
	assert.Equal("W", msg.UnitOfMeasurement)
	assert.Equal([]string{meter.Id}, msg.Device.Id)
	assert.Equal("broute2mqtt/bridge/state", msg.AvTopic)
	assert.Empty(msg.PayloadOn)
	assert.Equal("hass/sensor/"+meter.Id+"/meter_power_flow/config", c.HADiscoverySensorTopic(power))

	msg = GenericSensorToHADiscoveryMessage(c, link)
	assert.Equal("broute2mqtt/binary_sensor/meter_connected/state", msg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ON, msg.PayloadOn)
	assert.Equal(MQTT_PAYLOAD_OFF, msg.PayloadOff)
}

func TestMeterCurrentSensorDiscovery(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	meter := domain.MeterDevice(&broute.MeterInfo{Addr: "001C6400030C12A4", ModemVersion: "1.2.10"})

	ids := func(sensors []domain.GenericSensor) map[string]domain.GenericSensor {
		m := make(map[string]domain.GenericSensor)
		for _, s := range sensors {
			m[s.Id] = s
		}
		return m
	}

	without := ids(domain.MeterSensors(meter, false, false))
	assert.NotContains(without, domain.SENSOR_ID_METER_CURRENT_R)
	assert.NotContains(without, domain.SENSOR_ID_METER_TOTAL_ENERGY)

	with := ids(domain.MeterSensors(meter, false, true))
	assert.Contains(with, domain.SENSOR_ID_METER_CURRENT_T)
	msg := GenericSensorToHADiscoveryMessage(c, with[domain.SENSOR_ID_METER_CURRENT_R])
	assert.Equal("broute2mqtt/sensor/meter_current_r/state", msg.StateTopic)
	assert.Equal("A", msg.UnitOfMeasurement)
}

func TestBridgeSensorDiscovery(t *testing.T) {

	assert := assert.New(t)

	c := testClient()
	bridge := domain.BridgeDevice("broute2mqtt")
	msg := GenericSensorToHADiscoveryMessage(c, domain.BridgeSensors(bridge)[0])
	assert.Equal(c.BridgeStateTopic(), msg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, msg.PayloadOn)
	assert.Equal(MQTT_PAYLOAD_OFFLINE, msg.PayloadOff)
}
