package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vera-home/internal/application"
	"vera-home/internal/domain"
	"vera-home/internal/infra/schema"
	"vera-home/internal/infra/vera"
)

func (r *Router) health(c *gin.Context) {
	ctl := r.bridge.Controller()
	state := ctl.State()

	resp := HealthResponse{
		Status:     "healthy",
		Polling:    state.String(),
		Devices:    len(ctl.Devices()),
		Controller: ctl.Info(),
		Timestamp:  time.Now(),
	}
	code := http.StatusOK
	if state == vera.StateStopped {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
		if err := ctl.Err(); err != nil {
			resp.Error = err.Error()
		}
	}
	c.JSON(code, resp)
}

func (r *Router) listActions(c *gin.Context) {
	out := make(map[string]any)
	for _, a := range schema.Actions() {
		doc, _ := schema.Document(a)
		out[string(a)] = doc
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) listRooms(c *gin.Context) {
	rooms := r.bridge.Controller().Rooms()
	c.JSON(http.StatusOK, ListRoomsResponse{Rooms: rooms, Count: len(rooms)})
}

func (r *Router) listDevices(c *gin.Context) {
	var categories []domain.Category
	if raw := c.Query("category"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			cat, ok := domain.ParseCategory(part)
			if !ok {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_category", Message: part})
				return
			}
			categories = append(categories, cat)
		}
	}

	devices := r.bridge.Controller().Devices(categories...)
	resp := ListDevicesResponse{Devices: make([]DeviceResponse, 0, len(devices)), Count: len(devices)}
	for _, d := range devices {
		resp.Devices = append(resp.Devices, deviceResponse(d, false))
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) getDevice(c *gin.Context) {
	d, ok := r.device(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, deviceResponse(d, true))
}

func (r *Router) refreshDevice(c *gin.Context) {
	d, ok := r.device(c)
	if !ok {
		return
	}
	if err := d.Refresh(c.Request.Context()); err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deviceResponse(d, true))
}

func (r *Router) sendCommand(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	cmd := &domain.Command{
		Action:     domain.Action(strings.ToLower(req.Action)),
		TargetID:   id,
		TargetType: domain.TargetTypeDevice,
		Parameters: req.Parameters,
		Source:     "api",
	}
	result, err := r.bridge.Execute(c.Request.Context(), cmd)
	if err != nil {
		r.writeError(c, err)
		return
	}

	resp := CommandResponse{Result: result}
	if d, err := r.bridge.Controller().Device(id); err == nil {
		dr := deviceResponse(d, false)
		resp.Device = &dr
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) deviceHistory(c *gin.Context) {
	if r.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history_disabled"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx := c.Request.Context()
	states, err := r.history.States(ctx, id, limit)
	if err != nil {
		r.writeError(c, err)
		return
	}
	commands, err := r.history.Commands(ctx, id, limit)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{DeviceID: id, States: states, Commands: commands})
}

func (r *Router) listScenes(c *gin.Context) {
	scenes := r.bridge.Controller().Scenes()
	c.JSON(http.StatusOK, ListScenesResponse{Scenes: scenes, Count: len(scenes)})
}

func (r *Router) runScene(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := r.bridge.Execute(c.Request.Context(), &domain.Command{
		Action:     domain.ActionRunScene,
		TargetID:   id,
		TargetType: domain.TargetTypeScene,
		Source:     "api",
	})
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CommandResponse{Result: result})
}

func (r *Router) device(c *gin.Context) (*vera.Device, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}
	d, err := r.bridge.Controller().Device(id)
	if err != nil {
		r.writeError(c, err)
		return nil, false
	}
	return d, true
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: c.Param("id")})
		return 0, false
	}
	return id, true
}

func deviceResponse(d *vera.Device, withStates bool) DeviceResponse {
	resp := DeviceResponse{
		DeviceSnapshot: d.Snapshot(),
		Category:       d.Category().String(),
	}
	if withStates {
		resp.States = d.States()
	}
	return resp
}

// writeError maps bridge and controller errors to HTTP statuses.
func (r *Router) writeError(c *gin.Context, err error) {
	var (
		code = http.StatusInternalServerError
		kind = "internal_error"
	)
	switch {
	case errors.Is(err, application.ErrInvalidCommand), errors.Is(err, vera.ErrInvalidValue):
		code, kind = http.StatusBadRequest, "invalid_command"
	case errors.Is(err, vera.ErrDeviceNotFound), errors.Is(err, vera.ErrSceneNotFound):
		code, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, application.ErrUnsupportedAction), errors.Is(err, vera.ErrWrongCategory):
		code, kind = http.StatusUnprocessableEntity, "unsupported_action"
	case vera.IsCommandRejected(err):
		code, kind = http.StatusBadGateway, "command_rejected"
	case vera.IsNetworkError(err), vera.IsParseError(err):
		code, kind = http.StatusBadGateway, "controller_unreachable"
	}
	if code >= 500 {
		r.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(code, ErrorResponse{Error: kind, Message: err.Error()})
}
