package events

import (
	. "github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/pkg/broute"
)

func PowerFlowToUpdateEvents(pf PowerFlow) []any {
	var events []any

	// Net flow, positive when importing
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_POWER_FLOW,
		},
		Value:    pf.PowerWatt,
		Decimals: POWER_DECIMALS,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_IMPORT_POWER,
		},
		Value:    pf.ImportWatt,
		Decimals: POWER_DECIMALS,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_EXPORT_POWER,
		},
		Value:    pf.ExportWatt,
		Decimals: POWER_DECIMALS,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_PEAK_IMPORT_POWER,
		},
		Value:    pf.PeakImportWatt,
		Decimals: POWER_DECIMALS,
	})

	return events
}

func CumulativeEnergyUpdateEvents(kwh float64) []any {
	return []any{
		FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_METER_TOTAL_ENERGY,
			},
			Value:    kwh,
			Decimals: ENERGY_DECIMALS,
		},
	}
}

// CurrentUpdateEvents skips the T phase on single phase meters.
func CurrentUpdateEvents(current *broute.InstantaneousCurrent) []any {
	var events []any
	if current == nil {
		return events
	}
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_CURRENT_R,
		},
		Value:    current.R,
		Decimals: CURRENT_DECIMALS,
	})
	if !current.SinglePhase {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_METER_CURRENT_T,
			},
			Value:    current.T,
			Decimals: CURRENT_DECIMALS,
		})
	}
	return events
}

func MeterConnectionUpdateEvent(connected bool) any {
	return BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_METER_CONNECTED,
		},
		Value: connected,
	}
}

func MeterInfoUpdateEvents(info *broute.MeterInfo) []any {
	var events []any
	if info != nil {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_METER_CHANNEL,
			},
			Value: info.Channel,
		})
	}
	return events
}
