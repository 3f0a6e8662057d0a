package port

import (
	"time"

	"github.com/berfenger/broute2mqtt/internal/core/domain"
)

type PowerFlowLogic interface {
	// Update turns a raw instantaneous power register into a power flow.
	Update(raw uint32, at time.Time) domain.PowerFlow
	PeakImportWatt() float64
}
