package domain

type Action string

const (
	ActionTurnOn         Action = "turn_on"
	ActionTurnOff        Action = "turn_off"
	ActionSetLevel       Action = "set_level"
	ActionSetColor       Action = "set_color"
	ActionLock           Action = "lock"
	ActionUnlock         Action = "unlock"
	ActionOpen           Action = "open"
	ActionClose          Action = "close"
	ActionStop           Action = "stop"
	ActionArm            Action = "arm"
	ActionDisarm         Action = "disarm"
	ActionSetTemperature Action = "set_temperature"
	ActionSetHVACMode    Action = "set_hvac_mode"
	ActionSetFanMode     Action = "set_fan_mode"
	ActionRunScene       Action = "run_scene"
	ActionGetStatus      Action = "get_status"
	ActionUnknown        Action = "unknown"
)

// Command is a host-level request routed to a device façade or a scene.
type Command struct {
	Action     Action
	TargetName string
	TargetID   int
	TargetType TargetType
	Parameters map[string]any
	Source     string
}

type TargetType string

const (
	TargetTypeDevice TargetType = "device"
	TargetTypeScene  TargetType = "scene"
)
