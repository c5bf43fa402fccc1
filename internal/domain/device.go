package domain

import (
	"strconv"
	"strings"
	"time"
)

// Category is the numeric device category the Vera controller reports in sdata.
type Category int

const (
	CategoryUnknown           Category = 0
	CategoryDimmer            Category = 2
	CategorySwitch            Category = 3
	CategoryArmable           Category = 4
	CategoryThermostat        Category = 5
	CategoryLock              Category = 7
	CategoryCurtain           Category = 8
	CategoryRemote            Category = 9
	CategoryGeneric           Category = 11
	CategorySensor            Category = 12
	CategorySceneController   Category = 14
	CategoryHumiditySensor    Category = 16
	CategoryTemperatureSensor Category = 17
	CategoryLightSensor       Category = 18
	CategoryPowerMeter        Category = 21
	CategorySiren             Category = 24
	CategoryUVSensor          Category = 28
	CategoryGarageDoor        Category = 32
)

var categoryNames = map[Category]string{
	CategoryDimmer:            "dimmer",
	CategorySwitch:            "switch",
	CategoryArmable:           "armable",
	CategoryThermostat:        "thermostat",
	CategoryLock:              "lock",
	CategoryCurtain:           "curtain",
	CategoryRemote:            "remote",
	CategoryGeneric:           "generic",
	CategorySensor:            "sensor",
	CategorySceneController:   "scene_controller",
	CategoryHumiditySensor:    "humidity_sensor",
	CategoryTemperatureSensor: "temperature_sensor",
	CategoryLightSensor:       "light_sensor",
	CategoryPowerMeter:        "power_meter",
	CategorySiren:             "siren",
	CategoryUVSensor:          "uv_sensor",
	CategoryGarageDoor:        "garage_door",
}

// String returns the stable lower-case slug for the category.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseCategory accepts either a slug ("switch") or a Vera category number ("3").
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range categoryNames {
		if name == s {
			return c, true
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return CategoryUnknown, false
	}
	if _, ok := categoryNames[Category(n)]; ok {
		return Category(n), true
	}
	return CategoryUnknown, false
}

// Job states reported by the controller alongside changed devices.
const (
	JobStateNoJob              = -1
	JobStateWaitingToStart     = 0
	JobStateInProgress         = 1
	JobStateError              = 2
	JobStateAborted            = 3
	JobStateDone               = 4
	JobStateWaitingForCallback = 5
	JobStateRequeue            = 6
	JobStatePendingData        = 7
	JobStateNotPresent         = 999
)

// Alert is a controller alert attached to a device.
type Alert struct {
	DeviceID    int       `json:"device_id"`
	Code        string    `json:"code"`
	Severity    int       `json:"severity"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// StateUpdate is one changed device from a poll batch.
type StateUpdate struct {
	DeviceID   int
	Attributes map[string]string
	JobState   int
	Comment    string
	Alerts     []Alert
	Timestamp  time.Time
}

// DeviceSnapshot is a point-in-time copy of a device's cached state.
type DeviceSnapshot struct {
	ID           int               `json:"id"`
	Name         string            `json:"name"`
	Category     Category          `json:"category"`
	CategoryName string            `json:"category_name"`
	RoomID       int               `json:"room_id"`
	Attributes   map[string]string `json:"attributes"`
	Alerts       []Alert           `json:"alerts,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type Scene struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	RoomID int    `json:"room_id"`
	Active bool   `json:"active"`
}

type Room struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
