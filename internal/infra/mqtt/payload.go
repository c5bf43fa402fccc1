package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vera-home/internal/domain"
)

type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(status, clientID, reason string) []byte {
	b, _ := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

type statePayload struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	RoomID     int               `json:"room_id"`
	Attributes map[string]string `json:"attributes"`
	UpdatedAt  string            `json:"updated_at"`
}

// BuildStatePayload renders the retained state document for a device.
func BuildStatePayload(snap domain.DeviceSnapshot) ([]byte, error) {
	attrs := snap.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(statePayload{
		ID:         snap.ID,
		Name:       snap.Name,
		Category:   snap.Category.String(),
		RoomID:     snap.RoomID,
		Attributes: attrs,
		UpdatedAt:  snap.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// CommandPayload is the body accepted on <prefix>/devices/<id>/set.
// A bare "ON"/"OFF" string is also accepted.
type CommandPayload struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ParseCommand decodes a set-topic payload into a device command.
func ParseCommand(deviceID int, payload []byte) (*domain.Command, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	cmd := &domain.Command{
		TargetID:   deviceID,
		TargetType: domain.TargetTypeDevice,
		Source:     "mqtt",
	}

	switch strings.ToUpper(text) {
	case "ON":
		cmd.Action = domain.ActionTurnOn
		return cmd, nil
	case "OFF":
		cmd.Action = domain.ActionTurnOff
		return cmd, nil
	}

	var p CommandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if p.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrInvalidPayload)
	}
	cmd.Action = domain.Action(strings.ToLower(p.Action))
	cmd.Parameters = p.Parameters
	return cmd, nil
}
