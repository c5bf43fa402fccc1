package vera

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"vera-home/internal/domain"
)

// Service identifiers used by the device façades.
const (
	ServiceSwitchPower     = "urn:upnp-org:serviceId:SwitchPower1"
	ServiceDimming         = "urn:upnp-org:serviceId:Dimming1"
	ServiceSecuritySensor  = "urn:micasaverde-com:serviceId:SecuritySensor1"
	ServiceDoorLock        = "urn:micasaverde-com:serviceId:DoorLock1"
	ServiceWindowCovering  = "urn:upnp-org:serviceId:WindowCovering1"
	ServiceHVACUserMode    = "urn:upnp-org:serviceId:HVAC_UserOperatingMode1"
	ServiceHVACFanMode     = "urn:upnp-org:serviceId:HVAC_FanOperatingMode1"
	ServiceTemperatureSet  = "urn:upnp-org:serviceId:TemperatureSetpoint1"
	ServiceColor           = "urn:micasaverde-com:serviceId:Color1"
	ServiceHomeAutomation  = "urn:micasaverde-com:serviceId:HomeAutomationGateway1"
	ServiceSceneController = "urn:micasaverde-com:serviceId:SceneController1"
)

// Cursor identifies the last state version consumed from lu_sdata.
type Cursor struct {
	LoadTime    string
	DataVersion string
}

func (c Cursor) IsZero() bool {
	return c.LoadTime == "" && c.DataVersion == ""
}

// ServiceState is one UPnP service variable as reported by id=status.
type ServiceState struct {
	Service  string `json:"service"`
	Variable string `json:"variable"`
	Value    string `json:"value"`
}

// Command is a single lu_action call against a device service.
type Command struct {
	Service string
	Action  string
	Params  map[string]string
}

type ControllerInfo struct {
	Model            string `json:"model"`
	Version          string `json:"version"`
	SerialNumber     string `json:"serial_number"`
	TemperatureUnits string `json:"temperature_units"`
}

// DeviceData is the joined sdata and status view of one device.
type DeviceData struct {
	ID           int
	Name         string
	Category     domain.Category
	CategoryName string
	RoomID       int
	Attributes   map[string]string
	States       []ServiceState
}

// Snapshot is the full controller picture from one FetchDevices call.
type Snapshot struct {
	Info       ControllerInfo
	Categories map[int]string
	Rooms      []domain.Room
	Scenes     []domain.Scene
	Devices    []DeviceData
	Cursor     Cursor
}

type PollResult struct {
	Cursor  Cursor
	Updates []domain.StateUpdate
	Alerts  []domain.Alert
}

type rawObject map[string]json.RawMessage

type sdataResponse struct {
	Temperature  json.RawMessage `json:"temperature"`
	Model        json.RawMessage `json:"model"`
	Version      json.RawMessage `json:"version"`
	SerialNumber json.RawMessage `json:"serial_number"`
	LoadTime     json.RawMessage `json:"loadtime"`
	DataVersion  json.RawMessage `json:"dataversion"`
	Categories   []rawObject     `json:"categories"`
	Rooms        []rawObject     `json:"rooms"`
	Scenes       []rawObject     `json:"scenes"`
	Devices      []rawObject     `json:"devices"`
	Alerts       []rawObject     `json:"alerts"`
}

type statusResponse struct {
	LoadTime    json.RawMessage `json:"LoadTime"`
	DataVersion json.RawMessage `json:"DataVersion"`
	Devices     []statusDevice  `json:"devices"`
}

type statusDevice struct {
	ID     json.RawMessage `json:"id"`
	States []rawObject     `json:"states"`
}

// scalar renders a JSON scalar the way the controller's string attributes
// look. Objects, arrays and null are reported as absent.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[', 'n':
		return "", false
	case 't':
		return "1", true
	case 'f':
		return "0", true
	default:
		return string(raw), true
	}
}

func (o rawObject) str(key string) string {
	s, _ := scalar(o[key])
	return s
}

func (o rawObject) integer(key string) (int, bool) {
	return atoi(o.str(key))
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

// attributes flattens a device object into lower-cased string attributes.
func (o rawObject) attributes(skip ...string) map[string]string {
	attrs := make(map[string]string, len(o))
	for k, v := range o {
		key := strings.ToLower(k)
		if contains(skip, key) {
			continue
		}
		if s, ok := scalar(v); ok {
			attrs[key] = s
		}
	}
	return attrs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *sdataResponse) info() ControllerInfo {
	info := ControllerInfo{TemperatureUnits: "C"}
	info.Model, _ = scalar(r.Model)
	info.Version, _ = scalar(r.Version)
	info.SerialNumber, _ = scalar(r.SerialNumber)
	if t, ok := scalar(r.Temperature); ok && t != "" {
		info.TemperatureUnits = t
	}
	return info
}

func (r *sdataResponse) cursor() Cursor {
	var c Cursor
	c.LoadTime, _ = scalar(r.LoadTime)
	c.DataVersion, _ = scalar(r.DataVersion)
	return c
}

func (r *sdataResponse) categoryNames() map[int]string {
	names := make(map[int]string, len(r.Categories))
	for _, c := range r.Categories {
		if id, ok := c.integer("id"); ok {
			names[id] = c.str("name")
		}
	}
	return names
}

func (r *sdataResponse) rooms() []domain.Room {
	rooms := make([]domain.Room, 0, len(r.Rooms))
	for _, o := range r.Rooms {
		id, ok := o.integer("id")
		if !ok {
			continue
		}
		rooms = append(rooms, domain.Room{ID: id, Name: o.str("name")})
	}
	return rooms
}

func (r *sdataResponse) scenes() []domain.Scene {
	scenes := make([]domain.Scene, 0, len(r.Scenes))
	for _, o := range r.Scenes {
		id, ok := o.integer("id")
		if !ok {
			continue
		}
		room, _ := o.integer("room")
		active := o.str("active")
		scenes = append(scenes, domain.Scene{
			ID:     id,
			Name:   o.str("name"),
			RoomID: room,
			Active: active == "1",
		})
	}
	return scenes
}

// updates converts the changed devices of an lu_sdata answer.
func (r *sdataResponse) updates(now time.Time) []domain.StateUpdate {
	updates := make([]domain.StateUpdate, 0, len(r.Devices))
	for _, o := range r.Devices {
		id, ok := o.integer("id")
		if !ok {
			continue
		}
		state, ok := o.integer("state")
		if !ok {
			state = domain.JobStateNotPresent
		}
		updates = append(updates, domain.StateUpdate{
			DeviceID:   id,
			Attributes: o.attributes("id"),
			JobState:   state,
			Comment:    o.str("comment"),
			Timestamp:  now,
		})
	}
	return updates
}

func (r *sdataResponse) alerts() []domain.Alert {
	alerts := make([]domain.Alert, 0, len(r.Alerts))
	for _, o := range r.Alerts {
		id, ok := o.integer("PK_Device")
		if !ok {
			continue
		}
		severity, _ := o.integer("Severity")
		ts := time.Now()
		if unix, ok := o.integer("LocalTimestamp"); ok {
			ts = time.Unix(int64(unix), 0)
		}
		alerts = append(alerts, domain.Alert{
			DeviceID:    id,
			Code:        o.str("Code"),
			Severity:    severity,
			Description: o.str("Description"),
			Timestamp:   ts,
		})
	}
	return alerts
}

// defaultName mirrors the controller UI for unnamed devices.
func defaultName(categoryName string, id int) string {
	if categoryName != "" {
		return "Vera " + categoryName + " " + strconv.Itoa(id)
	}
	return "Vera Device " + strconv.Itoa(id)
}
