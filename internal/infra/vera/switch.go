package vera

import (
	"context"
)

// Switch covers on/off switches and garage doors.
type Switch struct {
	*Device
}

func (s *Switch) SwitchOn(ctx context.Context) error {
	return s.setTarget(ctx, "1")
}

func (s *Switch) SwitchOff(ctx context.Context) error {
	return s.setTarget(ctx, "0")
}

func (s *Switch) IsSwitchedOn() bool {
	return s.boolValue("status")
}

func (s *Switch) setTarget(ctx context.Context, value string) error {
	return s.send(ctx, Command{
		Service: ServiceSwitchPower,
		Action:  "SetTarget",
		Params:  map[string]string{"newTargetValue": value},
	}, map[string]string{"status": value})
}
