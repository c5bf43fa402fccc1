package api

import (
	"time"

	"vera-home/internal/domain"
	"vera-home/internal/infra/history"
	"vera-home/internal/infra/vera"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status     string              `json:"status"`
	Polling    string              `json:"polling"`
	Devices    int                 `json:"devices"`
	Controller vera.ControllerInfo `json:"controller"`
	Error      string              `json:"error,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

type DeviceResponse struct {
	domain.DeviceSnapshot
	Category string              `json:"category"`
	States   []vera.ServiceState `json:"states,omitempty"`
}

type ListDevicesResponse struct {
	Devices []DeviceResponse `json:"devices"`
	Count   int              `json:"count"`
}

type CommandRequest struct {
	Action     string         `json:"action" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

type CommandResponse struct {
	Result string          `json:"result"`
	Device *DeviceResponse `json:"device,omitempty"`
}

type HistoryResponse struct {
	DeviceID int                     `json:"device_id"`
	States   []history.StateRecord   `json:"states"`
	Commands []history.CommandRecord `json:"commands"`
}

type ListScenesResponse struct {
	Scenes []domain.Scene `json:"scenes"`
	Count  int            `json:"count"`
}

type ListRoomsResponse struct {
	Rooms []domain.Room `json:"rooms"`
	Count int           `json:"count"`
}
