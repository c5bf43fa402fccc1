package vera

import (
	"context"
	"time"
)

// BinarySensor covers door, motion and other tripped/untripped sensors,
// armable or not.
type BinarySensor struct {
	*Device
}

func (s *BinarySensor) IsTripped() bool {
	return s.boolValue("tripped")
}

func (s *BinarySensor) IsSwitchedOn() bool {
	return s.boolValue("status")
}

func (s *BinarySensor) IsArmed() bool {
	return s.boolValue("armed")
}

func (s *BinarySensor) Arm(ctx context.Context) error {
	return s.setArmed(ctx, "1")
}

func (s *BinarySensor) Disarm(ctx context.Context) error {
	return s.setArmed(ctx, "0")
}

func (s *BinarySensor) setArmed(ctx context.Context, value string) error {
	return s.send(ctx, Command{
		Service: ServiceSecuritySensor,
		Action:  "SetArmed",
		Params:  map[string]string{"newArmedValue": value},
	}, map[string]string{"armed": value})
}

// LastTrip is when the sensor last tripped, from a unix seconds attribute.
func (s *BinarySensor) LastTrip() (time.Time, bool) {
	v, ok := s.intValue("lasttrip")
	if !ok || v <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(v), 0), true
}

// Sensor covers temperature, humidity, light, UV and power meter devices.
type Sensor struct {
	*Device
}

// Temperature is in the controller's units, see ControllerInfo.
func (s *Sensor) Temperature() (float64, bool) {
	return s.floatValue("temperature")
}

func (s *Sensor) Humidity() (float64, bool) {
	return s.floatValue("humidity")
}

// Light is lux for light sensors and the index for UV sensors.
func (s *Sensor) Light() (float64, bool) {
	return s.floatValue("light")
}

func (s *Sensor) IsTripped() bool {
	return s.boolValue("tripped")
}
