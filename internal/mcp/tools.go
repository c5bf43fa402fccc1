package mcp

import "github.com/mark3labs/mcp-go/mcp"

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("get_health",
			mcp.WithDescription("Check the bridge and Vera controller polling status"),
		),
		s.handleGetHealth,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_devices",
			mcp.WithDescription("List Vera devices with their cached attributes"),
			mcp.WithString("category",
				mcp.Description("Optional category filter, e.g. switch, dimmer, lock, thermostat"),
			),
		),
		s.handleListDevices,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_device",
			mcp.WithDescription("Get one device by numeric id or name"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Device id (e.g. \"15\") or name (e.g. \"Porch Light\")"),
			),
		),
		s.handleGetDevice,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("send_command",
			mcp.WithDescription("Send a command to a device. Actions: turn_on, turn_off, set_level, set_color, lock, unlock, open, close, stop, arm, disarm, set_temperature, set_hvac_mode, set_fan_mode, get_status"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Device id or name"),
			),
			mcp.WithString("action",
				mcp.Required(),
				mcp.Description("Command action"),
			),
			mcp.WithObject("parameters",
				mcp.Description("Action parameters, e.g. {\"level\": 40}, {\"r\": 255, \"g\": 0, \"b\": 0}, {\"temperature\": 21.5}, {\"mode\": \"HeatOn\"}"),
			),
		),
		s.handleSendCommand,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_scenes",
			mcp.WithDescription("List scenes defined on the controller"),
		),
		s.handleListScenes,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("run_scene",
			mcp.WithDescription("Run a scene by numeric id or name"),
			mcp.WithString("scene",
				mcp.Required(),
				mcp.Description("Scene id or name"),
			),
		),
		s.handleRunScene,
	)
}
