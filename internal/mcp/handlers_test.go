package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"vera-home/internal/application"
	"vera-home/internal/infra/schema"
	"vera-home/internal/infra/vera/veratest"
)

func newTestServer(t *testing.T) (*Server, *veratest.Server) {
	t.Helper()
	srv := veratest.NewServer(t)
	ctl := veratest.NewController(t, srv)
	if _, err := ctl.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	bridge := application.NewBridge(ctl, slog.New(slog.NewTextHandler(io.Discard, nil)),
		application.WithValidator(schema.NewValidator()),
	)
	return NewServer(bridge, "test"), srv
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type: got %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestListDevices(t *testing.T) {
	s, _ := newTestServer(t)

	text, isErr := call(t, s.handleListDevices, map[string]any{"category": "lock"})
	if isErr {
		t.Fatalf("list_devices error: %s", text)
	}
	var out listDevicesOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if out.Count != 1 || out.Devices[0].Name != "Front Door" {
		t.Errorf("devices: got %+v", out)
	}

	if _, isErr := call(t, s.handleListDevices, map[string]any{"category": "toaster"}); !isErr {
		t.Errorf("unknown category should be a tool error")
	}
}

func TestGetDevice(t *testing.T) {
	s, _ := newTestServer(t)

	for _, ref := range []string{"20", "kitchen"} {
		text, isErr := call(t, s.handleGetDevice, map[string]any{"id": ref})
		if isErr {
			t.Fatalf("get_device %q error: %s", ref, text)
		}
		if !strings.Contains(text, "Kitchen Lights") {
			t.Errorf("get_device %q: got %s", ref, text)
		}
	}

	if _, isErr := call(t, s.handleGetDevice, map[string]any{}); !isErr {
		t.Errorf("missing id should be a tool error")
	}
	if _, isErr := call(t, s.handleGetDevice, map[string]any{"id": "attic"}); !isErr {
		t.Errorf("unknown device should be a tool error")
	}
}

func TestSendCommand(t *testing.T) {
	s, srv := newTestServer(t)

	text, isErr := call(t, s.handleSendCommand, map[string]any{
		"id":         "Kitchen Lights",
		"action":     "set_level",
		"parameters": map[string]any{"level": float64(70)},
	})
	if isErr {
		t.Fatalf("send_command error: %s", text)
	}
	q := srv.LastAction(t)
	if q.Get("DeviceNum") != "20" || q.Get("newLoadlevelTarget") != "70" {
		t.Errorf("action request: got %v", q)
	}

	text, isErr = call(t, s.handleSendCommand, map[string]any{"id": "15", "action": "set_level", "parameters": map[string]any{"level": float64(500)}})
	if !isErr || !strings.Contains(text, "invalid") {
		t.Errorf("invalid parameters: got %v %s", isErr, text)
	}
}

func TestRunScene(t *testing.T) {
	s, srv := newTestServer(t)

	text, isErr := call(t, s.handleRunScene, map[string]any{"scene": "Good Night"})
	if isErr {
		t.Fatalf("run_scene error: %s", text)
	}
	if q := srv.LastAction(t); q.Get("SceneNum") != "101" {
		t.Errorf("scene request: got %v", q)
	}
}

func TestGetHealth(t *testing.T) {
	s, _ := newTestServer(t)

	text, isErr := call(t, s.handleGetHealth, nil)
	if isErr {
		t.Fatalf("get_health error: %s", text)
	}
	var out healthOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if out.Status != "healthy" || out.Devices != 9 {
		t.Errorf("health: got %+v", out)
	}
}
