package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topics builds the bridge's topic tree under a configurable prefix:
//
//	<prefix>/bridge/status
//	<prefix>/devices/<id>/state
//	<prefix>/devices/<id>/alert
//	<prefix>/devices/<id>/set
type Topics struct {
	Prefix string
}

func (t Topics) BridgeStatus() string {
	return t.Prefix + "/bridge/status"
}

func (t Topics) DeviceState(id int) string {
	return fmt.Sprintf("%s/devices/%d/state", t.Prefix, id)
}

func (t Topics) DeviceAlert(id int) string {
	return fmt.Sprintf("%s/devices/%d/alert", t.Prefix, id)
}

func (t Topics) DeviceSet(id int) string {
	return fmt.Sprintf("%s/devices/%d/set", t.Prefix, id)
}

// AllDeviceSets matches every device command topic.
func (t Topics) AllDeviceSets() string {
	return t.Prefix + "/devices/+/set"
}

// DeviceID extracts the device id from a device topic under this prefix.
func (t Topics) DeviceID(topic string) (int, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/devices/")
	if !ok {
		return 0, false
	}
	idPart, _, found := strings.Cut(rest, "/")
	if !found {
		return 0, false
	}
	id, err := strconv.Atoi(idPart)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
