package plant

import (
	"fmt"
	"log"

	"github.com/devskill-org/energy-management-system/planmodel"
	"github.com/devskill-org/energy-management-system/sigenergy"
)

// Remote EMS control modes, per the Sigenergy Modbus register map (section
// 5.2, register 40031).
const (
	modeStandby                 uint16 = 1
	modeMaxSelfConsumption      uint16 = 2
	modeCommandChargeGridFirst  uint16 = 3
	modeCommandChargePVFirst    uint16 = 4
	modeCommandDischargePVFirst uint16 = 5
	modeCommandDischargeESS     uint16 = 6
)

// Executor drives one inverter plant over Modbus TCP, translating a single
// planned ScheduleSlot into the corresponding remote-EMS register writes.
// Water heating is outside the inverter's register map and is not actuated
// here; a ClassWater slot puts the inverter in the same max-self-consumption
// mode as a hold slot.
type Executor struct {
	modbusAddress string
	logger        *log.Logger
}

func NewExecutor(modbusAddress string, logger *log.Logger) *Executor {
	return &Executor{modbusAddress: modbusAddress, logger: logger}
}

// Apply writes slot's battery/export decision to the plant. It opens and
// closes its own Modbus connection per call, matching the short-lived
// connection pattern used throughout the rest of this package.
func (e *Executor) Apply(slot planmodel.ScheduleSlot) error {
	if e.modbusAddress == "" {
		return nil
	}

	client, err := sigenergy.NewTCPClient(e.modbusAddress, sigenergy.PlantAddress)
	if err != nil {
		return fmt.Errorf("plant executor: failed to open modbus client: %w", err)
	}
	defer client.Close()

	if err := client.EnableRemoteEMS(true); err != nil {
		return fmt.Errorf("plant executor: failed to enable remote EMS: %w", err)
	}

	switch slot.Classification {
	case planmodel.ClassCharge:
		mode := modeCommandChargeGridFirst
		if slot.PVForecastKwh > 0 {
			mode = modeCommandChargePVFirst
		}
		if err := client.SetRemoteEMSMode(mode); err != nil {
			return fmt.Errorf("plant executor: failed to set charge mode: %w", err)
		}
		if err := client.SetESSMaxChargingLimit(slot.BatteryChargeKw); err != nil {
			return fmt.Errorf("plant executor: failed to set charging limit: %w", err)
		}

	case planmodel.ClassDischarge, planmodel.ClassExport:
		if err := client.SetRemoteEMSMode(modeCommandDischargeESS); err != nil {
			return fmt.Errorf("plant executor: failed to set discharge mode: %w", err)
		}
		if err := client.SetESSMaxDischargingLimit(slot.BatteryDischargeKw); err != nil {
			return fmt.Errorf("plant executor: failed to set discharging limit: %w", err)
		}

	case planmodel.ClassWater:
		if e.logger != nil {
			e.logger.Printf("[PLANT] slot %s classified water: no inverter register to write, water heating is actuated out of band", slot.Start.Format("15:04"))
		}
		if err := client.SetRemoteEMSMode(modeMaxSelfConsumption); err != nil {
			return fmt.Errorf("plant executor: failed to set hold mode during water slot: %w", err)
		}

	case planmodel.ClassHold:
		if err := client.SetRemoteEMSMode(modeMaxSelfConsumption); err != nil {
			return fmt.Errorf("plant executor: failed to set hold mode: %w", err)
		}

	default:
		return fmt.Errorf("plant executor: unrecognised classification %q", slot.Classification)
	}

	if e.logger != nil {
		e.logger.Printf("[PLANT] applied slot %s: class=%s charge_kw=%.2f discharge_kw=%.2f",
			slot.Start.Format("15:04"), slot.Classification, slot.BatteryChargeKw, slot.BatteryDischargeKw)
	}
	return nil
}
