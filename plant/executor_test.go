package plant

import (
	"testing"
	"time"

	"github.com/devskill-org/energy-management-system/planmodel"
)

func TestApplyWithNoModbusAddressIsNoop(t *testing.T) {
	e := NewExecutor("", nil)
	slot := planmodel.ScheduleSlot{Start: time.Now(), Classification: planmodel.ClassCharge, BatteryChargeKw: 2}
	if err := e.Apply(slot); err != nil {
		t.Errorf("expected no-op executor to succeed, got %v", err)
	}
}
