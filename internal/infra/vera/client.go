package vera

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"vera-home/internal/domain"
	"vera-home/internal/infra"
)

const (
	DefaultPollTimeout    = 30 * time.Second
	DefaultMinDelay       = 200 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
)

type ClientConfig struct {
	BaseURL        string
	HTTPClient     *http.Client
	Retry          infra.RetryConfig
	RequestTimeout time.Duration
	PollTimeout    time.Duration
	MinDelay       time.Duration
	Logger         *slog.Logger
}

// Client speaks the controller's data_request API. It holds no device state.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	retry          infra.RetryConfig
	requestTimeout time.Duration
	pollTimeout    time.Duration
	minDelay       time.Duration
	logger         *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrEmptyBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	c := &Client{
		baseURL:        base,
		httpClient:     cfg.HTTPClient,
		retry:          cfg.Retry,
		requestTimeout: cfg.RequestTimeout,
		pollTimeout:    cfg.PollTimeout,
		minDelay:       cfg.MinDelay,
		logger:         cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.retry.MaxAttempts == 0 {
		c.retry = infra.DefaultRetryConfig()
	}
	if c.requestTimeout == 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.pollTimeout == 0 {
		c.pollTimeout = DefaultPollTimeout
	}
	if c.minDelay == 0 {
		c.minDelay = DefaultMinDelay
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// FetchDevices reads sdata and status and joins them. Devices only present
// in sdata are dropped.
func (c *Client) FetchDevices(ctx context.Context) (*Snapshot, error) {
	sdata, err := c.fetchSData(ctx)
	if err != nil {
		return nil, err
	}

	var status statusResponse
	if err := c.getJSON(ctx, "status", url.Values{"id": {"status"}}, &status); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Info:       sdata.info(),
		Categories: sdata.categoryNames(),
		Rooms:      sdata.rooms(),
		Scenes:     sdata.scenes(),
		Cursor:     sdata.cursor(),
	}

	info := make(map[int]rawObject, len(sdata.Devices))
	for _, d := range sdata.Devices {
		if id, ok := d.integer("id"); ok {
			info[id] = d
		}
	}

	seen := make(map[int]bool, len(status.Devices))
	for _, sd := range status.Devices {
		idStr, _ := scalar(sd.ID)
		id, ok := atoi(idStr)
		if !ok || seen[id] {
			continue
		}
		dev, ok := info[id]
		if !ok {
			continue
		}
		seen[id] = true

		category, _ := dev.integer("category")
		room, _ := dev.integer("room")
		categoryName := snap.Categories[category]
		name := dev.str("name")
		if name == "" {
			name = defaultName(categoryName, id)
		}

		states := make([]ServiceState, 0, len(sd.States))
		for _, s := range sd.States {
			states = append(states, ServiceState{
				Service:  s.str("service"),
				Variable: s.str("variable"),
				Value:    s.str("value"),
			})
		}

		snap.Devices = append(snap.Devices, DeviceData{
			ID:           id,
			Name:         name,
			Category:     domain.Category(category),
			CategoryName: categoryName,
			RoomID:       room,
			Attributes:   dev.attributes("id"),
			States:       states,
		})
	}

	sort.Slice(snap.Devices, func(i, j int) bool { return snap.Devices[i].ID < snap.Devices[j].ID })

	c.logger.Debug("fetched devices", "devices", len(snap.Devices), "scenes", len(snap.Scenes))
	return snap, nil
}

// ControllerInfo reads model, version, serial number and temperature units.
func (c *Client) ControllerInfo(ctx context.Context) (ControllerInfo, error) {
	sdata, err := c.fetchSData(ctx)
	if err != nil {
		return ControllerInfo{}, err
	}
	return sdata.info(), nil
}

// deviceAttributes returns the flat sdata attributes of a single device.
func (c *Client) deviceAttributes(ctx context.Context, deviceID int) (map[string]string, error) {
	sdata, err := c.fetchSData(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range sdata.Devices {
		if id, ok := d.integer("id"); ok && id == deviceID {
			return d.attributes("id"), nil
		}
	}
	return nil, fmt.Errorf("device %d: %w", deviceID, ErrDeviceNotFound)
}

func (c *Client) fetchSData(ctx context.Context) (*sdataResponse, error) {
	var sdata sdataResponse
	if err := c.getJSON(ctx, "sdata", url.Values{"id": {"sdata"}}, &sdata); err != nil {
		return nil, err
	}
	return &sdata, nil
}

func (c *Client) SendCommand(ctx context.Context, deviceID int, cmd Command) error {
	params := url.Values{
		"id":        {"lu_action"},
		"DeviceNum": {strconv.Itoa(deviceID)},
		"serviceId": {cmd.Service},
		"action":    {cmd.Action},
	}
	for k, v := range cmd.Params {
		params.Set(k, v)
	}
	return c.command(ctx, deviceID, cmd.Service, cmd.Action, params)
}

// CallAction invokes a parameterless service action through id=action.
func (c *Client) CallAction(ctx context.Context, deviceID int, service, action string) error {
	params := url.Values{
		"id":        {"action"},
		"DeviceNum": {strconv.Itoa(deviceID)},
		"serviceId": {service},
		"action":    {action},
	}
	return c.command(ctx, deviceID, service, action, params)
}

func (c *Client) RunScene(ctx context.Context, sceneID int) error {
	params := url.Values{
		"id":        {"lu_action"},
		"serviceId": {ServiceHomeAutomation},
		"action":    {"RunScene"},
		"SceneNum":  {strconv.Itoa(sceneID)},
	}
	return c.command(ctx, 0, ServiceHomeAutomation, "RunScene", params)
}

// GetVariable returns the raw value of a service variable.
func (c *Client) GetVariable(ctx context.Context, deviceID int, service, variable string) (string, error) {
	params := url.Values{
		"id":        {"variableget"},
		"DeviceNum": {strconv.Itoa(deviceID)},
		"serviceId": {service},
		"Variable":  {variable},
	}

	var value string
	err := infra.WithRetry(ctx, c.retry, func() error {
		body, status, err := c.do(ctx, "variableget", params, c.requestTimeout)
		if err != nil {
			return err
		}
		if status < 200 || status > 299 {
			return statusError("variableget", status)
		}
		value = strings.TrimSpace(string(body))
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// Poll waits for changes newer than cursor. A zero cursor returns the
// current data immediately.
func (c *Client) Poll(ctx context.Context, cursor Cursor) (*PollResult, error) {
	params := url.Values{"id": {"lu_sdata"}}
	if !cursor.IsZero() {
		params.Set("loadtime", cursor.LoadTime)
		params.Set("dataversion", cursor.DataVersion)
		params.Set("timeout", strconv.Itoa(int(c.pollTimeout/time.Second)))
		params.Set("minimumdelay", strconv.Itoa(int(c.minDelay/time.Millisecond)))
	}

	body, status, err := c.do(ctx, "lu_sdata", params, 2*c.pollTimeout)
	if err != nil {
		var nerr *NetworkError
		if errors.As(err, &nerr) && nerr.Timeout {
			return nil, ErrPollTimeout
		}
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &NetworkError{Op: "lu_sdata", StatusCode: status}
	}

	var data sdataResponse
	if err := decode(body, &data); err != nil {
		return nil, &ParseError{Op: "lu_sdata", Err: err}
	}

	result := &PollResult{
		Cursor:  data.cursor(),
		Updates: data.updates(time.Now()),
		Alerts:  data.alerts(),
	}
	result.Updates = attachAlerts(result.Updates, result.Alerts)

	if !cursor.IsZero() && len(result.Updates) == 0 && result.Cursor == cursor {
		return nil, ErrPollTimeout
	}
	if result.Cursor.IsZero() {
		result.Cursor = cursor
	}

	c.logger.Debug("poll returned",
		"updates", len(result.Updates),
		"alerts", len(result.Alerts),
		"dataversion", result.Cursor.DataVersion,
	)
	return result, nil
}

// attachAlerts hangs alerts on the matching update, adding alert-only
// updates for devices that did not otherwise change.
func attachAlerts(updates []domain.StateUpdate, alerts []domain.Alert) []domain.StateUpdate {
	for _, a := range alerts {
		found := false
		for i := range updates {
			if updates[i].DeviceID == a.DeviceID {
				updates[i].Alerts = append(updates[i].Alerts, a)
				found = true
				break
			}
		}
		if !found {
			updates = append(updates, domain.StateUpdate{
				DeviceID:  a.DeviceID,
				JobState:  domain.JobStateNotPresent,
				Alerts:    []domain.Alert{a},
				Timestamp: a.Timestamp,
			})
		}
	}
	return updates
}

func (c *Client) command(ctx context.Context, deviceID int, service, action string, params url.Values) error {
	body, status, err := c.do(ctx, action, params, c.requestTimeout)
	if err != nil {
		return fmt.Errorf("sending %s: %w", action, err)
	}

	text := strings.TrimSpace(string(body))
	if status < 200 || status > 299 || strings.HasPrefix(strings.ToUpper(text), "ERROR") {
		return &CommandRejectedError{
			DeviceID:   deviceID,
			Service:    service,
			Action:     action,
			StatusCode: status,
			Reason:     text,
		}
	}

	c.logger.Debug("command sent", "device", deviceID, "service", service, "action", action)
	return nil
}

func (c *Client) getJSON(ctx context.Context, op string, params url.Values, out any) error {
	return infra.WithRetry(ctx, c.retry, func() error {
		body, status, err := c.do(ctx, op, params, c.requestTimeout)
		if err != nil {
			return err
		}
		if status < 200 || status > 299 {
			return statusError(op, status)
		}
		if err := decode(body, out); err != nil {
			return infra.Permanent(&ParseError{Op: op, Err: err})
		}
		return nil
	})
}

func statusError(op string, status int) error {
	err := &NetworkError{Op: op, StatusCode: status}
	if infra.IsRetryableHTTPStatus(status) {
		return err
	}
	return infra.Permanent(err)
}

// do performs one GET. Cancellation of ctx is returned as ctx.Err(); the
// per-request timeout surfaces as a NetworkError with Timeout set.
func (c *Client) do(ctx context.Context, op string, params url.Values, timeout time.Duration) ([]byte, int, error) {
	params.Set("output_format", "json")

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/data_request?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, infra.Permanent(fmt.Errorf("creating request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, 0, &NetworkError{Op: op, Timeout: true, Err: fmt.Errorf("no answer within %s", timeout)}
		}
		return nil, 0, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, 0, &NetworkError{Op: op, Timeout: true, Err: fmt.Errorf("no answer within %s", timeout)}
		}
		return nil, 0, &NetworkError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	return body, resp.StatusCode, nil
}

func decode(body []byte, out any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, out)
}
