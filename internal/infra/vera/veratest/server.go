// Package veratest provides an in-memory Vera controller for tests.
package veratest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"vera-home/internal/infra"
	"vera-home/internal/infra/vera"
)

// Device and scene ids served by the default fixture.
const (
	SwitchID          = 15
	DimmerID          = 20
	LockID            = 30
	DoorSensorID      = 40
	TempSensorID      = 50
	CurtainID         = 60
	ThermostatID      = 70
	SceneControllerID = 80
	SDataOnlyID       = 90
	GarageID          = 47
	SceneID           = 101
)

// Server is an in-memory controller answering data_request calls.
type Server struct {
	server *httptest.Server

	mu          sync.Mutex
	sdata       map[string]any
	status      map[string]any
	dataVersion int
	pending     chan map[string]any
	requests    []url.Values
	variables   map[string]string
	reject      string
	failStatus  int
	badJSON     bool
	holds       map[string]*hold
}

type hold struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewServer(t *testing.T) *Server {
	t.Helper()
	f := &Server{
		sdata:       defaultSData(),
		status:      defaultStatus(),
		dataVersion: 100,
		pending:     make(chan map[string]any, 16),
		variables: map[string]string{
			variableKey(SceneControllerID, "LastSceneID"):   "7",
			variableKey(SceneControllerID, "LastSceneTime"): "1700000000",
		},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func variableKey(id int, variable string) string {
	return strconv.Itoa(id) + "/" + variable
}

func (f *Server) URL() string { return f.server.URL }

// Close shuts the listener so further requests fail at the network level.
func (f *Server) Close() { f.server.Close() }

// SetAttribute changes a top-level sdata attribute of a device.
func (f *Server) SetAttribute(id int, key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.sdata["devices"].([]map[string]any) {
		if d["id"] == id {
			d[key] = value
		}
	}
}

// Push queues a changed-devices answer for the next long poll.
func (f *Server) Push(devices ...map[string]any) {
	f.pending <- map[string]any{"devices": devices}
}

func (f *Server) PushAlert(alert map[string]any) {
	f.pending <- map[string]any{"devices": []map[string]any{}, "alerts": []map[string]any{alert}}
}

func (f *Server) SetFailStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStatus = status
}

func (f *Server) SetReject(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject = reason
}

func (f *Server) SetBadJSON(bad bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.badJSON = bad
}

// RemoveDevice drops a device from both sdata and status.
func (f *Server) RemoveDevice(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sdata["devices"] = without(f.sdata["devices"].([]map[string]any), id)
	f.status["devices"] = without(f.status["devices"].([]map[string]any), id)
}

func (f *Server) SetCategory(id, category int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.sdata["devices"].([]map[string]any) {
		if d["id"] == id {
			d["category"] = category
		}
	}
}

func without(list []map[string]any, id int) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, d := range list {
		if d["id"] != id {
			out = append(out, d)
		}
	}
	return out
}

// Hold makes the next request with the given data_request id block until
// release is called. entered is closed once that request has arrived.
func (f *Server) Hold(id string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	if f.holds == nil {
		f.holds = make(map[string]*hold)
	}
	f.holds[id] = h
	f.mu.Unlock()
	return h.entered, func() { h.once.Do(func() { close(h.release) }) }
}

// Polls returns the lu_sdata requests received so far.
func (f *Server) Polls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []url.Values
	for _, q := range f.requests {
		if q.Get("id") == "lu_sdata" {
			out = append(out, q)
		}
	}
	return out
}

func (f *Server) Actions() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []url.Values
	for _, q := range f.requests {
		switch q.Get("id") {
		case "lu_action", "action":
			out = append(out, q)
		}
	}
	return out
}

func (f *Server) LastAction(t *testing.T) url.Values {
	t.Helper()
	actions := f.Actions()
	if len(actions) == 0 {
		t.Fatalf("no action sent")
	}
	return actions[len(actions)-1]
}

func (f *Server) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f.mu.Lock()
	f.requests = append(f.requests, q)
	failStatus := f.failStatus
	badJSON := f.badJSON
	reject := f.reject
	h := f.holds[q.Get("id")]
	delete(f.holds, q.Get("id"))
	f.mu.Unlock()

	if h != nil {
		close(h.entered)
		select {
		case <-h.release:
		case <-r.Context().Done():
		}
	}

	if failStatus != 0 {
		http.Error(w, "unavailable", failStatus)
		return
	}
	if badJSON {
		w.Write([]byte(`{"devices": [`))
		return
	}

	switch q.Get("id") {
	case "sdata":
		f.writeJSON(w, func() any { return f.sdata })
	case "status":
		f.writeJSON(w, func() any { return f.status })
	case "lu_sdata":
		f.handlePoll(w, r)
	case "lu_action", "action":
		if reject != "" {
			w.Write([]byte(reject))
			return
		}
		w.Write([]byte(`{"u:Response": {"JobID": "1"}}`))
	case "variableget":
		id, _ := strconv.Atoi(q.Get("DeviceNum"))
		f.mu.Lock()
		value := f.variables[variableKey(id, q.Get("Variable"))]
		f.mu.Unlock()
		w.Write([]byte(value))
	default:
		http.Error(w, "unknown request", http.StatusBadRequest)
	}
}

func (f *Server) writeJSON(w http.ResponseWriter, body func() any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body())
}

func (f *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("loadtime") == "" {
		f.mu.Lock()
		body := map[string]any{
			"loadtime":    "1700000000",
			"dataversion": f.dataVersion,
			"devices":     f.sdata["devices"],
		}
		f.mu.Unlock()
		f.writeJSON(w, func() any { return body })
		return
	}

	wait, _ := strconv.Atoi(q.Get("timeout"))
	timer := time.NewTimer(time.Duration(wait) * time.Second)
	defer timer.Stop()

	select {
	case reply := <-f.pending:
		f.mu.Lock()
		f.dataVersion++
		reply["loadtime"] = "1700000000"
		reply["dataversion"] = f.dataVersion
		f.mu.Unlock()
		f.writeJSON(w, func() any { return reply })
	case <-timer.C:
		f.mu.Lock()
		body := map[string]any{
			"loadtime":    "1700000000",
			"dataversion": f.dataVersion,
		}
		f.mu.Unlock()
		f.writeJSON(w, func() any { return body })
	case <-r.Context().Done():
	}
}

func NoRetry() infra.RetryConfig {
	return infra.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func NewClient(t *testing.T, f *Server) *vera.Client {
	t.Helper()
	client, err := vera.NewClient(vera.ClientConfig{
		BaseURL:        f.URL(),
		Retry:          NoRetry(),
		RequestTimeout: 2 * time.Second,
		PollTimeout:    time.Second,
		MinDelay:       10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return client
}

func NewController(t *testing.T, f *Server, opts ...vera.Option) *vera.Controller {
	t.Helper()
	base := []vera.Option{
		vera.WithRetry(NoRetry()),
		vera.WithPollTimeout(time.Second),
		vera.WithMinDelay(10 * time.Millisecond),
		vera.WithBackoff(10*time.Millisecond, 20*time.Millisecond),
	}
	ctl, err := vera.New(f.URL(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return ctl
}

func device(id, category int, name string, attrs map[string]any) map[string]any {
	d := map[string]any{
		"id":          id,
		"name":        name,
		"category":    category,
		"room":        1,
		"state":       -1,
		"comment":     "",
		"commFailure": "0",
	}
	for k, v := range attrs {
		d[k] = v
	}
	return d
}

func defaultSData() map[string]any {
	return map[string]any{
		"model":         "MiCasaVerde VeraLite",
		"version":       "*1.7.4453*",
		"serial_number": "35012345",
		"temperature":   "C",
		"categories": []map[string]any{
			{"id": 2, "name": "Dimmable Light"},
			{"id": 3, "name": "Switch"},
			{"id": 4, "name": "Security Sensor"},
			{"id": 5, "name": "Thermostat"},
			{"id": 7, "name": "Door lock"},
			{"id": 8, "name": "Window Covering"},
			{"id": 14, "name": "Scene Controller"},
			{"id": 17, "name": "Temperature Sensor"},
			{"id": 32, "name": "Garage Door"},
		},
		"rooms": []map[string]any{
			{"id": 1, "name": "Living Room", "section": 1},
		},
		"scenes": []map[string]any{
			{"id": SceneID, "name": "Good Night", "room": 1, "active": 0},
		},
		"devices": []map[string]any{
			device(SwitchID, 3, "Porch Light", map[string]any{"status": "0"}),
			device(DimmerID, 2, "Kitchen Lights", map[string]any{"status": "0", "level": "0"}),
			device(LockID, 7, "Front Door", map[string]any{
				"locked":   "0",
				"status":   "0",
				"pincodes": "<VERSION=3>\t1,1,3,0,1234,Alice;\t2,0,3,0,5678,Bob;\t3,1,3,0,4321,Carol;\t",
			}),
			device(DoorSensorID, 4, "Back Door Sensor", map[string]any{
				"armed":        "0",
				"tripped":      "0",
				"status":       "0",
				"lasttrip":     "1571790666",
				"batterylevel": "88",
			}),
			device(TempSensorID, 17, "Hall Temperature", map[string]any{"temperature": 21.5}),
			device(CurtainID, 8, "Bedroom Blinds", map[string]any{"level": "0"}),
			device(ThermostatID, 5, "Thermostat", map[string]any{
				"mode":        "Off",
				"fanmode":     "Auto",
				"hvacstate":   "Idle",
				"setpoint":    20,
				"temperature": "19",
			}),
			device(SceneControllerID, 14, "", nil),
			device(SDataOnlyID, 3, "Ghost Switch", map[string]any{"status": "1"}),
			device(GarageID, 32, "Garage", map[string]any{"status": "0"}),
		},
	}
}

func statusEntry(id int, states ...map[string]any) map[string]any {
	if states == nil {
		states = []map[string]any{}
	}
	return map[string]any{"id": id, "states": states, "Jobs": []any{}, "PendingJobs": 0, "tooltip": map[string]any{"display": 0}}
}

func defaultStatus() map[string]any {
	return map[string]any{
		"LoadTime":    "1700000000",
		"DataVersion": 100,
		"devices": []map[string]any{
			statusEntry(SwitchID, map[string]any{"service": vera.ServiceSwitchPower, "variable": "Status", "value": "0"}),
			statusEntry(DimmerID,
				map[string]any{"service": vera.ServiceColor, "variable": "CurrentColor", "value": "I=0,A=0,R=255,G=100,B=100"},
				map[string]any{"service": vera.ServiceColor, "variable": "SupportedColors", "value": "I,A,R,G,B"},
			),
			statusEntry(LockID,
				map[string]any{"service": vera.ServiceDoorLock, "variable": "Status", "value": "0"},
				map[string]any{"service": "urn:micasaverde-com:serviceId:DoorLock1", "variable": "sl_UserCode", "value": `UserID="3" UserName="Carol"`},
				map[string]any{"service": vera.ServiceDoorLock, "variable": "sl_PinFailed", "value": "1"},
				map[string]any{"service": vera.ServiceDoorLock, "variable": "sl_LockFailure", "value": "0"},
			),
			statusEntry(DoorSensorID),
			statusEntry(TempSensorID),
			statusEntry(CurtainID),
			statusEntry(ThermostatID),
			statusEntry(SceneControllerID,
				map[string]any{"service": vera.ServiceSceneController, "variable": "LastSceneID", "value": "1234"},
				map[string]any{"service": vera.ServiceSceneController, "variable": "LastSceneTime", "value": "10000012"},
			),
			statusEntry(GarageID),
			// duplicated id must collapse into one device
			statusEntry(SwitchID),
		},
	}
}

func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
