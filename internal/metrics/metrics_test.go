package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, reg *prometheus.Registry) map[string]int {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]int{}
	for _, f := range families {
		counts[f.GetName()] = len(f.GetMetric())
	}
	return counts
}

func TestMeterMetrics(t *testing.T) {

	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	m := NewMeterMetrics(reg)

	inst := m.ModemInstrument()
	inst.RecordTime("SKSENDTO", 120*time.Millisecond)
	inst.RecordTime("SKJOIN-wait", 3*time.Second)

	m.ObserveRead(PROPERTY_INSTANTANEOUS_POWER, nil)
	m.ObserveRead(PROPERTY_INSTANTANEOUS_POWER, errors.New("timeout"))
	m.ObserveRead(PROPERTY_CUMULATIVE_ENERGY, nil)
	m.InstantaneousPower.Set(512)
	m.SetConnected(true)

	counts := gathered(t, reg)
	assert.Equal(2, counts["broute_modem_command_seconds"])
	assert.Equal(3, counts["broute_meter_reads_total"])
	assert.Equal(1, counts["broute_meter_instantaneous_power_watts"])
	assert.Equal(1, counts["broute_meter_session_connected"])

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "broute_meter_session_connected" {
			assert.Equal(1.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestHandlerExposesRegistry(t *testing.T) {

	assert := assert.New(t)

	reg := NewRegistry()
	m := NewMeterMetrics(reg)
	m.SetConnected(false)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	assert.NoError(err)
	assert.Equal(200, rec.Code)
	assert.Contains(string(body), "broute_meter_session_connected 0")
	assert.Contains(string(body), "go_goroutines")
}
