package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"vera-home/internal/application"
	"vera-home/internal/domain"
	"vera-home/internal/infra/history"
	"vera-home/internal/infra/schema"
	"vera-home/internal/infra/vera"
	"vera-home/internal/infra/vera/veratest"
)

type mockSink struct {
	mu    sync.Mutex
	snaps []domain.DeviceSnapshot
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) HandleState(_ context.Context, snap domain.DeviceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *mockSink) find(id int, key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snaps {
		if s.ID == id && s.Attributes[key] == value {
			return true
		}
	}
	return false
}

func (m *mockSink) last(id int, key, value string) (domain.DeviceSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.snaps) - 1; i >= 0; i-- {
		if s := m.snaps[i]; s.ID == id && s.Attributes[key] == value {
			return s, true
		}
	}
	return domain.DeviceSnapshot{}, false
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }

func (failingSink) HandleState(context.Context, domain.DeviceSnapshot) error {
	return errors.New("sink down")
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
	urgent   []string
}

func (m *mockNotifier) Notify(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockNotifier) NotifyUrgent(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urgent = append(m.urgent, message)
	return nil
}

func (m *mockNotifier) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages), len(m.urgent)
}

type mockRecorder struct {
	mu      sync.Mutex
	records []history.CommandRecord
}

func (m *mockRecorder) RecordCommand(_ context.Context, rec history.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *mockRecorder) last(t *testing.T) history.CommandRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		t.Fatalf("no command recorded")
	}
	return m.records[len(m.records)-1]
}

type fixture struct {
	srv      *veratest.Server
	ctl      *vera.Controller
	bridge   *application.Bridge
	sink     *mockSink
	notifier *mockNotifier
	recorder *mockRecorder
}

func newFixture(t *testing.T, opts ...vera.Option) *fixture {
	t.Helper()
	srv := veratest.NewServer(t)
	ctl := veratest.NewController(t, srv, opts...)
	f := &fixture{
		srv:      srv,
		ctl:      ctl,
		sink:     &mockSink{},
		notifier: &mockNotifier{},
		recorder: &mockRecorder{},
	}
	f.bridge = application.NewBridge(ctl, slog.New(slog.NewTextHandler(io.Discard, nil)),
		application.WithSinks(f.sink, failingSink{}),
		application.WithValidator(schema.NewValidator()),
		application.WithRecorder(f.recorder),
		application.WithNotifier(f.notifier),
	)
	return f
}

func (f *fixture) refresh(t *testing.T) {
	t.Helper()
	if _, err := f.ctl.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
}

func TestBridge_ExecuteByName(t *testing.T) {
	f := newFixture(t)
	f.refresh(t)

	result, err := f.bridge.Execute(context.Background(), &domain.Command{
		Action:     domain.ActionTurnOn,
		TargetName: "porch light",
		Source:     "test",
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !strings.Contains(result, "Porch Light") {
		t.Errorf("result: got %q", result)
	}

	q := f.srv.LastAction(t)
	if q.Get("DeviceNum") != "15" || q.Get("newTargetValue") != "1" {
		t.Errorf("action request: got %v", q)
	}

	rec := f.recorder.last(t)
	if rec.DeviceID != veratest.SwitchID || rec.Action != "turn_on" || rec.Error != "" || rec.Source != "test" {
		t.Errorf("recorded command: got %+v", rec)
	}
}

func TestBridge_ExecuteDispatch(t *testing.T) {
	f := newFixture(t)
	f.refresh(t)

	tests := []struct {
		name   string
		cmd    domain.Command
		check  string
		expect string
	}{
		{"dimmer level", domain.Command{Action: domain.ActionSetLevel, TargetID: veratest.DimmerID, Parameters: map[string]any{"level": float64(40)}}, "newLoadlevelTarget", "40"},
		{"dimmer brightness", domain.Command{Action: domain.ActionSetLevel, TargetID: veratest.DimmerID, Parameters: map[string]any{"brightness": 255}}, "newLoadlevelTarget", "100"},
		{"lock", domain.Command{Action: domain.ActionLock, TargetID: veratest.LockID}, "newTargetValue", "1"},
		{"curtain open", domain.Command{Action: domain.ActionOpen, TargetID: veratest.CurtainID}, "action", "Up"},
		{"arm sensor", domain.Command{Action: domain.ActionArm, TargetID: veratest.DoorSensorID}, "newArmedValue", "1"},
		{"setpoint", domain.Command{Action: domain.ActionSetTemperature, TargetID: veratest.ThermostatID, Parameters: map[string]any{"temperature": 21.5}}, "NewCurrentSetpoint", "21.5"},
		{"hvac mode", domain.Command{Action: domain.ActionSetHVACMode, TargetID: veratest.ThermostatID, Parameters: map[string]any{"mode": "HeatOn"}}, "NewModeTarget", "HeatOn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := tt.cmd
			if _, err := f.bridge.Execute(context.Background(), &cmd); err != nil {
				t.Fatalf("Execute error: %v", err)
			}
			q := f.srv.LastAction(t)
			if got := q.Get(tt.check); got != tt.expect {
				t.Errorf("%s: got %q, want %q", tt.check, got, tt.expect)
			}
		})
	}
}

func TestBridge_ExecuteInvalidParameters(t *testing.T) {
	f := newFixture(t)
	f.refresh(t)

	_, err := f.bridge.Execute(context.Background(), &domain.Command{
		Action:     domain.ActionSetLevel,
		TargetID:   veratest.DimmerID,
		Parameters: map[string]any{"level": 140},
	})
	if !errors.Is(err, application.ErrInvalidCommand) {
		t.Fatalf("error: got %v, want ErrInvalidCommand", err)
	}
	if n := len(f.srv.Actions()); n != 0 {
		t.Errorf("actions sent: got %d, want 0", n)
	}
	if rec := f.recorder.last(t); rec.Error == "" {
		t.Errorf("failed command should be recorded with its error")
	}
	if normal, _ := f.notifier.counts(); normal != 0 {
		t.Errorf("validation failures should not notify")
	}
}

func TestBridge_ExecuteUnsupported(t *testing.T) {
	f := newFixture(t)
	f.refresh(t)

	_, err := f.bridge.Execute(context.Background(), &domain.Command{Action: domain.ActionLock, TargetID: veratest.SwitchID})
	if !errors.Is(err, application.ErrUnsupportedAction) {
		t.Fatalf("error: got %v, want ErrUnsupportedAction", err)
	}
	if normal, _ := f.notifier.counts(); normal != 1 {
		t.Errorf("notifications: got %d, want 1", normal)
	}

	_, err = f.bridge.Execute(context.Background(), &domain.Command{Action: domain.ActionTurnOn, TargetName: "attic"})
	if !errors.Is(err, vera.ErrDeviceNotFound) {
		t.Errorf("error: got %v, want ErrDeviceNotFound", err)
	}
}

func TestBridge_ExecuteScene(t *testing.T) {
	f := newFixture(t)
	f.refresh(t)

	result, err := f.bridge.Execute(context.Background(), &domain.Command{
		Action:     domain.ActionRunScene,
		TargetName: "good night",
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result != "Scene 'Good Night' executed" {
		t.Errorf("result: got %q", result)
	}
	q := f.srv.LastAction(t)
	if q.Get("action") != "RunScene" || q.Get("SceneNum") != "101" {
		t.Errorf("scene request: got %v", q)
	}
	if rec := f.recorder.last(t); rec.TargetType != "scene" || rec.DeviceID != veratest.SceneID {
		t.Errorf("recorded scene: got %+v", rec)
	}
}

func TestBridge_GetStatus(t *testing.T) {
	f := newFixture(t)
	f.refresh(t)

	result, err := f.bridge.Execute(context.Background(), &domain.Command{Action: domain.ActionGetStatus, TargetID: veratest.TempSensorID})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !strings.Contains(result, "temperature=21.5") {
		t.Errorf("status: got %q", result)
	}
}

func TestBridge_RunForwardsUpdates(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.bridge.Run(ctx) }()

	veratest.WaitFor(t, "polling", func() bool { return f.ctl.State() == vera.StatePolling })

	f.srv.Push(map[string]any{"id": veratest.SwitchID, "status": "1"})
	veratest.WaitFor(t, "sink update", func() bool { return f.sink.find(veratest.SwitchID, "status", "1") })

	f.srv.PushAlert(map[string]any{"PK_Device": veratest.DoorSensorID, "Code": "DL_LOW_BATTERY", "Severity": 2, "Description": "Battery low"})
	veratest.WaitFor(t, "alert notification", func() bool {
		_, urgent := f.notifier.counts()
		return urgent == 1
	})

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error: got %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestBridge_RunForwardsOnlyNewAlerts(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- f.bridge.Run(ctx) }()

	veratest.WaitFor(t, "polling", func() bool { return f.ctl.State() == vera.StatePolling })

	f.srv.Push(map[string]any{"id": veratest.SwitchID, "status": "1"})
	veratest.WaitFor(t, "first update", func() bool { return f.sink.find(veratest.SwitchID, "status", "1") })
	f.srv.PushAlert(map[string]any{"PK_Device": veratest.SwitchID, "Code": "DL_TAMPER", "Severity": 1, "Description": "tamper"})
	veratest.WaitFor(t, "alert", func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		for _, s := range f.sink.snaps {
			if s.ID == veratest.SwitchID && len(s.Alerts) == 1 {
				return true
			}
		}
		return false
	})

	f.srv.Push(map[string]any{"id": veratest.SwitchID, "status": "0"})
	veratest.WaitFor(t, "alert-free update", func() bool { return f.sink.find(veratest.SwitchID, "status", "0") })

	snap, _ := f.sink.last(veratest.SwitchID, "status", "0")
	if len(snap.Alerts) != 0 {
		t.Errorf("alert-free update reached sinks with alerts: %+v", snap.Alerts)
	}
	if messages, _ := f.notifier.counts(); messages != 1 {
		t.Errorf("notifications: got %d, want 1", messages)
	}

	cancel()
	<-errc
}

func TestBridge_RunStopsOnSubscriptionFailure(t *testing.T) {
	f := newFixture(t, vera.WithMaxFailures(2))

	errc := make(chan error, 1)
	go func() { errc <- f.bridge.Run(context.Background()) }()

	veratest.WaitFor(t, "polling", func() bool { return f.ctl.State() == vera.StatePolling })
	f.srv.SetFailStatus(http.StatusInternalServerError)

	select {
	case err := <-errc:
		if !vera.IsSubscriptionError(err) {
			t.Errorf("Run error: got %v, want SubscriptionError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after subscription failure")
	}
	if _, urgent := f.notifier.counts(); urgent != 1 {
		t.Errorf("urgent notifications: got %d, want 1", urgent)
	}
}
