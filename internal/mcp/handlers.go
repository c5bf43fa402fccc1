package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"vera-home/internal/domain"
	"vera-home/internal/infra/vera"
)

type healthOutput struct {
	Status     string              `json:"status"`
	Polling    string              `json:"polling"`
	Devices    int                 `json:"devices"`
	Controller vera.ControllerInfo `json:"controller"`
	Error      string              `json:"error,omitempty"`
	Timestamp  string              `json:"timestamp"`
}

type deviceInfo struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	RoomID     int               `json:"room_id"`
	Attributes map[string]string `json:"attributes"`
	Alerts     []domain.Alert    `json:"alerts,omitempty"`
}

type listDevicesOutput struct {
	Devices []deviceInfo `json:"devices"`
	Count   int          `json:"count"`
}

type commandOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleGetHealth(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctl := s.bridge.Controller()
	out := healthOutput{
		Status:     "healthy",
		Polling:    ctl.State().String(),
		Devices:    len(ctl.Devices()),
		Controller: ctl.Info(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if ctl.State() == vera.StateStopped {
		out.Status = "unhealthy"
		if err := ctl.Err(); err != nil {
			out.Error = err.Error()
		}
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListDevices(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var categories []domain.Category
	if raw, _ := request.GetArguments()["category"].(string); raw != "" {
		cat, ok := domain.ParseCategory(raw)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown category %q", raw)), nil
		}
		categories = append(categories, cat)
	}

	devices := s.bridge.Controller().Devices(categories...)
	out := listDevicesOutput{Devices: make([]deviceInfo, 0, len(devices)), Count: len(devices)}
	for _, d := range devices {
		out.Devices = append(out.Devices, toInfo(d.Snapshot()))
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetDevice(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.lookup(ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(toInfo(d.Snapshot()))), nil
}

func (s *Server) handleSendCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := requiredString(request, "action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	params, _ := request.GetArguments()["parameters"].(map[string]any)

	cmd := &domain.Command{
		Action:     domain.Action(strings.ToLower(action)),
		TargetType: domain.TargetTypeDevice,
		Parameters: params,
		Source:     "mcp",
	}
	if id, err := strconv.Atoi(ref); err == nil {
		cmd.TargetID = id
	} else {
		cmd.TargetName = ref
	}

	result, err := s.bridge.Execute(ctx, cmd)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("command failed: %s", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(commandOutput{Success: true, Message: result})), nil
}

func (s *Server) handleListScenes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scenes := s.bridge.Controller().Scenes()
	return mcp.NewToolResultText(formatJSON(map[string]any{"scenes": scenes, "count": len(scenes)})), nil
}

func (s *Server) handleRunScene(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := requiredString(request, "scene")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cmd := &domain.Command{
		Action:     domain.ActionRunScene,
		TargetType: domain.TargetTypeScene,
		Source:     "mcp",
	}
	if id, err := strconv.Atoi(ref); err == nil {
		cmd.TargetID = id
	} else {
		cmd.TargetName = ref
	}

	result, err := s.bridge.Execute(ctx, cmd)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scene failed: %s", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(commandOutput{Success: true, Message: result})), nil
}

func (s *Server) lookup(ref string) (*vera.Device, error) {
	ctl := s.bridge.Controller()
	if id, err := strconv.Atoi(ref); err == nil {
		return ctl.Device(id)
	}
	return ctl.DeviceByName(ref)
}

func toInfo(snap domain.DeviceSnapshot) deviceInfo {
	return deviceInfo{
		ID:         snap.ID,
		Name:       snap.Name,
		Category:   snap.Category.String(),
		RoomID:     snap.RoomID,
		Attributes: snap.Attributes,
		Alerts:     snap.Alerts,
	}
}

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	v, ok := request.GetArguments()[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
