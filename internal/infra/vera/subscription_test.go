package vera_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vera-home/internal/domain"
	"vera-home/internal/infra/vera"
)

type recorder struct {
	mu      sync.Mutex
	updates []domain.StateUpdate
}

func (r *recorder) listener(_ *vera.Device, u domain.StateUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) find(deviceID int, key, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.updates {
		if u.DeviceID == deviceID && u.Attributes[key] == value {
			return true
		}
	}
	return false
}

func startController(t *testing.T, f *fakeVera, opts ...vera.Option) *vera.Controller {
	t.Helper()
	ctl := newTestController(t, f, opts...)
	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(ctl.Stop)
	return ctl
}

func TestSubscription_SwitchOnThenPoll(t *testing.T) {
	f := newFakeVera(t)
	ctl := startController(t, f)

	rec := &recorder{}
	ctl.Register(switchID, rec.listener)

	sw, err := ctl.Switch(switchID)
	if err != nil {
		t.Fatalf("Switch error: %v", err)
	}
	if sw.IsSwitchedOn() {
		t.Fatalf("switch should start off")
	}

	if err := sw.SwitchOn(context.Background()); err != nil {
		t.Fatalf("SwitchOn error: %v", err)
	}
	q := f.LastAction(t)
	if q.Get("id") != "lu_action" || q.Get("DeviceNum") != "15" {
		t.Errorf("switch on request: got %v", q)
	}

	f.Push(map[string]any{"id": switchID, "status": "1", "state": 4, "comment": ""})

	waitFor(t, "switch update", func() bool { return rec.find(switchID, "status", "1") })
	if !sw.IsSwitchedOn() {
		t.Errorf("switch should read on after the poll cycle")
	}
}

func TestSubscription_JobStateFilter(t *testing.T) {
	f := newFakeVera(t)
	ctl := startController(t, f)

	rec := &recorder{}
	ctl.RegisterAll(rec.listener)

	f.Push(
		map[string]any{"id": lockID, "locked": "1", "state": 1, "comment": "Front Door: Please wait! Polling node"},
		map[string]any{"id": lockID, "locked": "1", "state": -1, "comment": "Front Door: Sending the Z-Wave command after 0 retries"},
		map[string]any{"id": switchID, "status": "1", "state": 2, "comment": "Failed to send"},
		map[string]any{"id": dimmerID, "level": "40", "state": 2, "comment": "Setting user configuration"},
	)
	// sentinel batch so we know the first one has been handled
	f.Push(map[string]any{"id": curtainID, "level": "10"})
	waitFor(t, "sentinel update", func() bool { return rec.find(curtainID, "level", "10") })

	lock, _ := ctl.Lock(lockID)
	if lock.IsLocked() {
		t.Errorf("in-progress lock updates must be skipped")
	}
	sw, _ := ctl.Switch(switchID)
	if sw.IsSwitchedOn() {
		t.Errorf("error-state updates must be skipped")
	}
	dim, _ := ctl.Dimmer(dimmerID)
	if dim.Level() != 40 {
		t.Errorf("user configuration updates should apply, level: got %d", dim.Level())
	}

	f.Push(map[string]any{"id": lockID, "locked": "1", "state": 1, "comment": "Front Door: SUCCESS! Successfully polled node"})
	waitFor(t, "lock success", func() bool { return rec.find(lockID, "locked", "1") })
	if !lock.IsLocked() {
		t.Errorf("lock should read locked after SUCCESS!")
	}
}

func TestSubscription_Unregister(t *testing.T) {
	f := newFakeVera(t)
	ctl := startController(t, f)

	var calls atomic.Int32
	unregister := ctl.Register(tempSensorID, func(*vera.Device, domain.StateUpdate) { calls.Add(1) })
	rec := &recorder{}
	ctl.RegisterAll(rec.listener)

	f.Push(map[string]any{"id": tempSensorID, "temperature": "22"})
	waitFor(t, "first update", func() bool { return rec.find(tempSensorID, "temperature", "22") })
	seen := calls.Load()
	if seen == 0 {
		t.Fatalf("device listener was not called")
	}

	unregister()
	f.Push(map[string]any{"id": tempSensorID, "temperature": "23"})
	waitFor(t, "second update", func() bool { return rec.find(tempSensorID, "temperature", "23") })
	if calls.Load() != seen {
		t.Errorf("listener called after unregister")
	}

	s, _ := ctl.Sensor(tempSensorID)
	if temp, _ := s.Temperature(); temp != 23 {
		t.Errorf("temperature: got %v, want 23", temp)
	}
}

func TestSubscription_AlertsReachDevice(t *testing.T) {
	f := newFakeVera(t)
	ctl := startController(t, f)

	rec := &recorder{}
	ctl.RegisterAll(rec.listener)

	f.PushAlert(map[string]any{"PK_Device": doorSensorID, "Code": "DL_LOW_BATTERY", "Severity": 2, "Description": "Battery low"})
	d, _ := ctl.Device(doorSensorID)
	waitFor(t, "alert", func() bool { return len(d.Alerts()) == 1 })
	if d.Alerts()[0].Code != "DL_LOW_BATTERY" {
		t.Errorf("alert code: got %s", d.Alerts()[0].Code)
	}
}

func TestSubscription_GivesUpAfterMaxFailures(t *testing.T) {
	f := newFakeVera(t)

	var handled atomic.Value
	ctl := newTestController(t, f,
		vera.WithMaxFailures(3),
		vera.WithErrorHandler(func(err error) { handled.Store(err) }),
	)
	if _, err := ctl.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	f.SetFailStatus(http.StatusInternalServerError)
	if err := ctl.Start(context.Background()); err == nil {
		t.Fatalf("Start should fail while the controller is down")
	}

	f.SetFailStatus(0)
	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(ctl.Stop)
	f.SetFailStatus(http.StatusInternalServerError)

	select {
	case <-ctl.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("subscription did not stop")
	}

	if ctl.State() != vera.StateStopped {
		t.Errorf("state: got %s, want stopped", ctl.State())
	}
	var subErr *vera.SubscriptionError
	if !errors.As(ctl.Err(), &subErr) {
		t.Fatalf("Err: got %v, want SubscriptionError", ctl.Err())
	}
	if subErr.Failures != 3 {
		t.Errorf("failures: got %d, want 3", subErr.Failures)
	}
	if !vera.IsNetworkError(subErr) {
		t.Errorf("cause should be a network error: %v", subErr.Err)
	}
	if handled.Load() == nil {
		t.Errorf("error handler not called")
	}
}

func TestSubscription_StopCancelsInFlightPoll(t *testing.T) {
	f := newFakeVera(t)
	ctl := newTestController(t, f, vera.WithPollTimeout(30*time.Second))
	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitFor(t, "long poll", func() bool { return ctl.State() == vera.StatePolling })
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		ctl.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return")
	}
	if ctl.State() != vera.StateStopped {
		t.Errorf("state: got %s, want stopped", ctl.State())
	}
	if ctl.Err() != nil {
		t.Errorf("Err after Stop: got %v, want nil", ctl.Err())
	}
}

func TestSubscription_TimeoutKeepsCursor(t *testing.T) {
	f := newFakeVera(t)
	// a sub-second poll timeout makes the fake answer at once with an
	// unchanged cursor
	ctl := startController(t, f, vera.WithPollTimeout(500*time.Millisecond))

	rec := &recorder{}
	ctl.RegisterAll(rec.listener)

	waitFor(t, "empty polls", func() bool { return len(f.Polls()) >= 4 })
	for i, q := range f.Polls()[1:] {
		if q.Get("loadtime") != "1700000000" || q.Get("dataversion") != "100" {
			t.Errorf("poll %d after timeout: got loadtime=%s dataversion=%s, want 1700000000/100",
				i+1, q.Get("loadtime"), q.Get("dataversion"))
		}
	}

	f.Push(map[string]any{"id": switchID, "status": "1"})
	waitFor(t, "update after timeouts", func() bool { return rec.find(switchID, "status", "1") })
	waitFor(t, "advanced cursor", func() bool {
		for _, q := range f.Polls() {
			if q.Get("dataversion") == "101" {
				return true
			}
		}
		return false
	})
}

func TestSubscription_UnchangedPollsAreSpaced(t *testing.T) {
	f := newFakeVera(t)
	startController(t, f,
		vera.WithPollTimeout(500*time.Millisecond),
		vera.WithMinDelay(100*time.Millisecond),
	)

	waitFor(t, "first poll", func() bool { return len(f.Polls()) >= 1 })
	time.Sleep(500 * time.Millisecond)

	if n := len(f.Polls()); n > 10 {
		t.Errorf("polls in 500ms with a 100ms floor: got %d", n)
	}
}

func TestSubscription_FailuresResetAfterSuccess(t *testing.T) {
	f := newFakeVera(t)
	ctl := startController(t, f,
		vera.WithPollTimeout(500*time.Millisecond),
		vera.WithMaxFailures(3),
		vera.WithBackoff(200*time.Millisecond, 200*time.Millisecond),
	)

	rec := &recorder{}
	ctl.RegisterAll(rec.listener)

	// two rounds of at most MaxFailures-1 errors, each followed by a good poll
	for _, watts := range []string{"11", "22"} {
		n := len(f.Polls())
		f.SetFailStatus(http.StatusServiceUnavailable)
		waitFor(t, "failed polls", func() bool { return len(f.Polls()) >= n+2 })
		f.SetFailStatus(0)

		f.Push(map[string]any{"id": switchID, "watts": watts})
		waitFor(t, "update after recovery", func() bool { return rec.find(switchID, "watts", watts) })
	}

	select {
	case <-ctl.Done():
		t.Fatalf("subscription stopped: %v", ctl.Err())
	default:
	}
	if ctl.State() == vera.StateStopped {
		t.Errorf("state: got stopped")
	}
}
