package service

import (
	"time"

	"github.com/berfenger/broute2mqtt/internal/core/domain"
	"github.com/berfenger/broute2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// DefaultPowerFlowLogic reads the register as a signed watt value. Meters with
// reverse flow metering report export as a negative two's complement number.
type DefaultPowerFlowLogic struct {
	Location *time.Location
	Logger   *zap.Logger

	peakImport float64
	peakDay    time.Time
}

func NewDefaultPowerFlowLogic(location *time.Location, logger *zap.Logger) *DefaultPowerFlowLogic {
	if location == nil {
		location = time.Local
	}
	return &DefaultPowerFlowLogic{
		Location: location,
		Logger:   logger,
	}
}

func (l *DefaultPowerFlowLogic) Update(raw uint32, at time.Time) domain.PowerFlow {
	power := float64(int32(raw))

	day := l.dayOf(at)
	if !day.Equal(l.peakDay) {
		if !l.peakDay.IsZero() {
			l.Logger.Debug("power flow: daily peak reset", zap.Float64("previous_peak", l.peakImport))
		}
		l.peakDay = day
		l.peakImport = 0
	}

	pf := domain.PowerFlow{PowerWatt: power}
	if power > 0 {
		pf.ImportWatt = power
	} else if power < 0 {
		pf.ExportWatt = -power
	}
	if pf.ImportWatt > l.peakImport {
		l.peakImport = pf.ImportWatt
	}
	pf.PeakImportWatt = l.peakImport
	return pf
}

func (l *DefaultPowerFlowLogic) PeakImportWatt() float64 {
	return l.peakImport
}

func (l *DefaultPowerFlowLogic) dayOf(at time.Time) time.Time {
	local := at.In(l.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.Location)
}

// ensure interface compliance
var _ port.PowerFlowLogic = (*DefaultPowerFlowLogic)(nil)
