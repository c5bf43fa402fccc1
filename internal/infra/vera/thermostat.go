package vera

import (
	"context"
	"fmt"
	"strconv"
)

const (
	HVACModeOff  = "Off"
	HVACModeCool = "CoolOn"
	HVACModeHeat = "HeatOn"
	HVACModeAuto = "AutoChangeOver"

	FanModeOn    = "ContinuousOn"
	FanModeOff   = "Off"
	FanModeAuto  = "Auto"
	FanModeCycle = "PeriodicOn"
)

var (
	hvacModes = []string{HVACModeOff, HVACModeCool, HVACModeHeat, HVACModeAuto}
	fanModes  = []string{FanModeOn, FanModeOff, FanModeAuto, FanModeCycle}
)

type Thermostat struct {
	*Device
}

func (t *Thermostat) SetTemperature(ctx context.Context, temp float64) error {
	value := strconv.FormatFloat(temp, 'f', -1, 64)
	return t.send(ctx, Command{
		Service: ServiceTemperatureSet,
		Action:  "SetCurrentSetpoint",
		Params:  map[string]string{"NewCurrentSetpoint": value},
	}, map[string]string{"setpoint": value})
}

// GoalTemperature is the current setpoint.
func (t *Thermostat) GoalTemperature() (float64, bool) {
	return t.floatValue("setpoint")
}

func (t *Thermostat) CurrentTemperature() (float64, bool) {
	return t.floatValue("temperature")
}

func (t *Thermostat) SetHVACMode(ctx context.Context, mode string) error {
	if !contains(hvacModes, mode) {
		return fmt.Errorf("hvac mode %q: %w", mode, ErrInvalidValue)
	}
	return t.send(ctx, Command{
		Service: ServiceHVACUserMode,
		Action:  "SetModeTarget",
		Params:  map[string]string{"NewModeTarget": mode},
	}, map[string]string{"mode": mode})
}

func (t *Thermostat) HVACMode() string {
	v, _ := t.Value("mode")
	return v
}

func (t *Thermostat) TurnOff(ctx context.Context) error { return t.SetHVACMode(ctx, HVACModeOff) }
func (t *Thermostat) CoolOn(ctx context.Context) error  { return t.SetHVACMode(ctx, HVACModeCool) }
func (t *Thermostat) HeatOn(ctx context.Context) error  { return t.SetHVACMode(ctx, HVACModeHeat) }
func (t *Thermostat) AutoOn(ctx context.Context) error  { return t.SetHVACMode(ctx, HVACModeAuto) }

func (t *Thermostat) SetFanMode(ctx context.Context, mode string) error {
	if !contains(fanModes, mode) {
		return fmt.Errorf("fan mode %q: %w", mode, ErrInvalidValue)
	}
	return t.send(ctx, Command{
		Service: ServiceHVACFanMode,
		Action:  "SetMode",
		Params:  map[string]string{"NewMode": mode},
	}, map[string]string{"fanmode": mode})
}

func (t *Thermostat) FanMode() string {
	v, _ := t.Value("fanmode")
	return v
}

func (t *Thermostat) FanOn(ctx context.Context) error    { return t.SetFanMode(ctx, FanModeOn) }
func (t *Thermostat) FanOff(ctx context.Context) error   { return t.SetFanMode(ctx, FanModeOff) }
func (t *Thermostat) FanAuto(ctx context.Context) error  { return t.SetFanMode(ctx, FanModeAuto) }
func (t *Thermostat) FanCycle(ctx context.Context) error { return t.SetFanMode(ctx, FanModeCycle) }

// HVACState is what the unit is doing right now (Idle, Heating, ...).
func (t *Thermostat) HVACState() string {
	v, _ := t.Value("hvacstate")
	return v
}
