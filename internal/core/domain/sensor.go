package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/broute2mqtt/pkg/broute"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE            = "bridge"
	SENSOR_ID_METER_CONNECTED         = "meter_connected"
	SENSOR_ID_METER_POWER_FLOW        = "meter_power_flow"
	SENSOR_ID_METER_IMPORT_POWER      = "meter_import_power"
	SENSOR_ID_METER_EXPORT_POWER      = "meter_export_power"
	SENSOR_ID_METER_PEAK_IMPORT_POWER = "meter_peak_import_power"
	SENSOR_ID_METER_TOTAL_ENERGY      = "meter_total_energy"
	SENSOR_ID_METER_CHANNEL           = "meter_channel"
	SENSOR_ID_METER_CURRENT_R         = "meter_current_r"
	SENSOR_ID_METER_CURRENT_T         = "meter_current_t"
	STATE_CLASS_MEASUREMENT           = "measurement"
	STATE_CLASS_TOTAL_INCREASING      = "total_increasing"
	DEVICE_CLASS_ENERGY               = "energy"
	DEVICE_CLASS_POWER                = "power"
	DEVICE_CLASS_CURRENT              = "current"
	DEVICE_CLASS_CONNECTIVITY         = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC           = "diagnostic"
	SENSOR_TYPE_SENSOR                = "sensor"
	SENSOR_TYPE_BINARY                = "binary_sensor"
	METER_MANUFACTURER                = "ECHONET Lite"
	METER_MODEL                       = "Low-voltage smart electric energy meter"
	BRIDGE_MANUFACTURER               = "berfenger"
	BRIDGE_MODEL                      = "broute2mqtt"
)

const (
	POWER_DECIMALS   uint = 0
	ENERGY_DECIMALS  uint = 3
	CURRENT_DECIMALS uint = 1
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("broute_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: BRIDGE_MANUFACTURER,
		Model:        BRIDGE_MODEL,
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("B-route bridge %s", md5HashShort(baseTopic)),
	}
}

// MeterDevice identifies the meter by its MAC address, which survives rescans.
func MeterDevice(info *broute.MeterInfo) Device {
	return Device{
		Id:           fmt.Sprintf("broute_meter_%s", md5HashShort(info.Addr)),
		Version:      info.ModemVersion,
		Manufacturer: METER_MANUFACTURER,
		Model:        METER_MODEL,
		Name:         fmt.Sprintf("Smart meter %s", md5HashShort(info.Addr)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func MeterSensors(meterDevice Device, trackEnergy bool, trackCurrent bool) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_METER_POWER_FLOW,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Power flow",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_POWER_FLOW),
	})

	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_METER_IMPORT_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Import power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_IMPORT_POWER),
	})

	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_METER_EXPORT_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Export power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_EXPORT_POWER),
	})

	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_METER_PEAK_IMPORT_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Daily peak import power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		Icon:              "mdi:chart-bell-curve",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_PEAK_IMPORT_POWER),
	})

	if trackEnergy {
		sensors = append(sensors, GenericSensor{
			Device:            meterDevice,
			Id:                SENSOR_ID_METER_TOTAL_ENERGY,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Total energy imported",
			StateClass:        STATE_CLASS_TOTAL_INCREASING,
			DeviceClass:       DEVICE_CLASS_ENERGY,
			UnitOfMeasurement: "kWh",
			UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_TOTAL_ENERGY),
		})
	}

	if trackCurrent {
		sensors = append(sensors, GenericSensor{
			Device:            meterDevice,
			Id:                SENSOR_ID_METER_CURRENT_R,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Current R phase",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_CURRENT,
			UnitOfMeasurement: "A",
			UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_CURRENT_R),
		})
		// stays unknown on single phase meters
		sensors = append(sensors, GenericSensor{
			Device:            meterDevice,
			Id:                SENSOR_ID_METER_CURRENT_T,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Current T phase",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_CURRENT,
			UnitOfMeasurement: "A",
			UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_METER_CURRENT_T),
		})
	}

	sensors = append(sensors, GenericSensor{
		Device:         meterDevice,
		Id:             SENSOR_ID_METER_CONNECTED,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Meter link",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_ID_METER_CONNECTED),
	})

	sensors = append(sensors, GenericSensor{
		Device:           meterDevice,
		Id:               SENSOR_ID_METER_CHANNEL,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Wi-SUN channel",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		Icon:             "mdi:access-point",
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(meterDevice.Id, SENSOR_ID_METER_CHANNEL),
	})

	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
