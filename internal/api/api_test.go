package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"vera-home/config"
	"vera-home/internal/api"
	"vera-home/internal/application"
	"vera-home/internal/domain"
	"vera-home/internal/infra/history"
	"vera-home/internal/infra/schema"
	"vera-home/internal/infra/vera/veratest"
)

type testAPI struct {
	srv    *veratest.Server
	router *api.Router
	store  *history.Store
}

func newTestAPI(t *testing.T, cfg config.APIConfig) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := veratest.NewServer(t)
	ctl := veratest.NewController(t, srv)
	if _, err := ctl.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bridge := application.NewBridge(ctl, logger,
		application.WithValidator(schema.NewValidator()),
		application.WithRecorder(store),
	)
	return &testAPI{srv: srv, router: api.NewRouter(bridge, store, cfg, logger), store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})

	rec := a.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d, want %d", rec.Code, http.StatusOK)
	}
	resp := decode[api.HealthResponse](t, rec)
	if resp.Devices != 9 {
		t.Errorf("devices: got %d, want 9", resp.Devices)
	}
	if resp.Controller.Model != "MiCasaVerde VeraLite" {
		t.Errorf("model: got %q", resp.Controller.Model)
	}
}

func TestListDevices(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})

	rec := a.do(t, http.MethodGet, "/api/v1/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d", rec.Code)
	}
	if resp := decode[api.ListDevicesResponse](t, rec); resp.Count != 9 {
		t.Errorf("count: got %d, want 9", resp.Count)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/devices?category=switch,garage_door", nil)
	resp := decode[api.ListDevicesResponse](t, rec)
	if resp.Count != 2 {
		t.Errorf("filtered count: got %d, want 2", resp.Count)
	}
	for _, d := range resp.Devices {
		if d.Category != "switch" && d.Category != "garage_door" {
			t.Errorf("unexpected category %s", d.Category)
		}
	}

	rec = a.do(t, http.MethodGet, "/api/v1/devices?category=toaster", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid category: got %d, want 400", rec.Code)
	}
}

func TestGetDevice(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})

	rec := a.do(t, http.MethodGet, "/api/v1/devices/30", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d", rec.Code)
	}
	resp := decode[api.DeviceResponse](t, rec)
	if resp.Name != "Front Door" || resp.Category != "lock" {
		t.Errorf("device: got %s/%s", resp.Name, resp.Category)
	}
	if len(resp.States) == 0 {
		t.Errorf("states missing from single-device response")
	}

	if rec := a.do(t, http.MethodGet, "/api/v1/devices/9999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device: got %d, want 404", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/devices/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d, want 400", rec.Code)
	}
}

func TestSendCommand(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})

	rec := a.do(t, http.MethodPost, "/api/v1/devices/20/commands", map[string]any{
		"action":     "set_level",
		"parameters": map[string]any{"level": 40},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d, body %s", rec.Code, rec.Body.String())
	}
	q := a.srv.LastAction(t)
	if q.Get("DeviceNum") != "20" || q.Get("newLoadlevelTarget") != "40" {
		t.Errorf("action request: got %v", q)
	}

	rec = a.do(t, http.MethodPost, "/api/v1/devices/20/commands", map[string]any{
		"action":     "set_level",
		"parameters": map[string]any{"level": 400},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid level: got %d, want 400", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/api/v1/devices/15/commands", map[string]any{"action": "lock"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("lock on switch: got %d, want 422", rec.Code)
	}

	a.srv.SetReject("ERROR: Invalid Device")
	rec = a.do(t, http.MethodPost, "/api/v1/devices/15/commands", map[string]any{"action": "turn_on"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("rejected command: got %d, want 502", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/api/v1/devices/15/commands", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing action: got %d, want 400", rec.Code)
	}
}

func TestDeviceHistory(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})
	ctx := context.Background()

	if err := a.store.HandleState(ctx, domain.DeviceSnapshot{ID: 15, Attributes: map[string]string{"status": "1"}, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("HandleState error: %v", err)
	}
	a.do(t, http.MethodPost, "/api/v1/devices/15/commands", map[string]any{"action": "turn_off"})

	rec := a.do(t, http.MethodGet, "/api/v1/devices/15/history?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d", rec.Code)
	}
	resp := decode[api.HistoryResponse](t, rec)
	if len(resp.States) != 1 {
		t.Errorf("states: got %d, want 1", len(resp.States))
	}
	if len(resp.Commands) != 1 || resp.Commands[0].Action != "turn_off" || resp.Commands[0].Source != "api" {
		t.Errorf("commands: got %+v", resp.Commands)
	}
}

func TestScenes(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{})

	rec := a.do(t, http.MethodGet, "/api/v1/scenes", nil)
	if resp := decode[api.ListScenesResponse](t, rec); resp.Count != 1 || resp.Scenes[0].Name != "Good Night" {
		t.Errorf("scenes: got %+v", resp)
	}

	rec = a.do(t, http.MethodPost, "/api/v1/scenes/101/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run scene: got %d, body %s", rec.Code, rec.Body.String())
	}
	if q := a.srv.LastAction(t); q.Get("SceneNum") != "101" {
		t.Errorf("scene request: got %v", q)
	}

	if rec := a.do(t, http.MethodPost, "/api/v1/scenes/5/run", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown scene: got %d, want 404", rec.Code)
	}
}

func TestAuthToken(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{AuthToken: "secret"})

	rec := a.do(t, http.MethodPost, "/api/v1/devices/15/commands", map[string]any{"action": "turn_on"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: got %d, want 401", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/api/v1/devices/15/commands", map[string]any{"action": "turn_on"}, "X-Auth-Token", "secret")
	if rec.Code != http.StatusOK {
		t.Errorf("with token: got %d, want 200", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/devices", nil); rec.Code != http.StatusOK {
		t.Errorf("reads stay open: got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, config.APIConfig{RateLimit: 2, RateWindow: time.Minute})

	for i := 0; i < 2; i++ {
		if rec := a.do(t, http.MethodGet, "/api/v1/scenes", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/scenes", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request: got %d, want 429", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health is not rate limited: got %d", rec.Code)
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := api.NewRateLimiter(1, 20*time.Millisecond)
	if !rl.Allow("1.2.3.4") {
		t.Fatalf("first request should pass")
	}
	if rl.Allow("1.2.3.4") {
		t.Errorf("second request should be limited")
	}
	if !rl.Allow("5.6.7.8") {
		t.Errorf("other clients have their own bucket")
	}
	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("1.2.3.4") {
		t.Errorf("bucket should refill after the window")
	}
}
