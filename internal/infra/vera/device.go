package vera

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"vera-home/internal/domain"
)

// Capable is what every device view exposes regardless of category.
type Capable interface {
	ID() int
	Name() string
	Category() domain.Category
	Value(name string) (string, bool)
	ComplexValue(variable string) (string, bool)
	Refresh(ctx context.Context) error
	Snapshot() domain.DeviceSnapshot
}

// Device is the shared base of every category view. Cached state is only
// mutated by the registry; readers never touch the network.
type Device struct {
	id           int
	category     domain.Category
	categoryName string
	reg          *Registry

	mu        sync.RWMutex
	name      string
	roomID    int
	attrs     map[string]string
	states    []ServiceState
	alerts    []domain.Alert
	updatedAt time.Time
	// touched records when each attribute was last merged from a poll or
	// command, so a slower full refresh cannot roll it back.
	touched map[string]time.Time
}

func newDevice(data DeviceData, reg *Registry) *Device {
	d := &Device{
		id:           data.ID,
		category:     data.Category,
		categoryName: data.CategoryName,
		reg:          reg,
	}
	d.load(data, time.Time{})
	return d
}

// load replaces cached state with a snapshot entry fetched at fetchedAt.
// Attributes merged after fetchedAt are newer than the snapshot and win.
func (d *Device) load(data DeviceData, fetchedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = data.Name
	d.roomID = data.RoomID

	attrs := maps.Clone(data.Attributes)
	if attrs == nil {
		attrs = make(map[string]string)
	}
	for k, at := range d.touched {
		if !at.After(fetchedAt) {
			delete(d.touched, k)
			continue
		}
		if v, ok := d.attrs[k]; ok {
			attrs[k] = v
		}
	}
	d.attrs = attrs
	d.states = append([]ServiceState(nil), data.States...)
	d.updatedAt = time.Now()
}

func (d *Device) merge(update domain.StateUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.touched == nil {
		d.touched = make(map[string]time.Time, len(update.Attributes))
	}
	now := time.Now()
	for k, v := range update.Attributes {
		k = strings.ToLower(k)
		d.attrs[k] = v
		d.touched[k] = now
	}
	if len(update.Alerts) > 0 {
		d.alerts = append([]domain.Alert(nil), update.Alerts...)
	}
	if update.Timestamp.IsZero() {
		d.updatedAt = time.Now()
	} else {
		d.updatedAt = update.Timestamp
	}
}

func (d *Device) setState(service, variable, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.states {
		if d.states[i].Variable == variable && (service == "" || d.states[i].Service == service) {
			d.states[i].Value = value
			return
		}
	}
	d.states = append(d.states, ServiceState{Service: service, Variable: variable, Value: value})
}

func (d *Device) ID() int                   { return d.id }
func (d *Device) Category() domain.Category { return d.category }

// CategoryName is the controller's label for the category, or the slug when
// the controller did not name it.
func (d *Device) CategoryName() string {
	if d.categoryName != "" {
		return d.categoryName
	}
	return d.category.String()
}

func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *Device) RoomID() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roomID
}

// Value reads a flat sdata attribute. Names are case-insensitive.
func (d *Device) Value(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.attrs[strings.ToLower(name)]
	return v, ok
}

// ComplexValue reads a service variable from the status states.
func (d *Device) ComplexValue(variable string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.states {
		if s.Variable == variable {
			return s.Value, true
		}
	}
	return "", false
}

func (d *Device) serviceFor(variable string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.states {
		if s.Variable == variable {
			return s.Service
		}
	}
	return ""
}

func (d *Device) Attributes() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.attrs)
}

func (d *Device) States() []ServiceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]ServiceState(nil), d.states...)
}

func (d *Device) Alerts() []domain.Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]domain.Alert(nil), d.alerts...)
}

func (d *Device) Snapshot() domain.DeviceSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return domain.DeviceSnapshot{
		ID:           d.id,
		Name:         d.name,
		Category:     d.category,
		CategoryName: d.categoryName,
		RoomID:       d.roomID,
		Attributes:   maps.Clone(d.attrs),
		Alerts:       append([]domain.Alert(nil), d.alerts...),
		UpdatedAt:    d.updatedAt,
	}
}

// Refresh re-reads this device's sdata attributes. Only needed when the
// polling loop is not running.
func (d *Device) Refresh(ctx context.Context) error {
	return d.reg.refreshDevice(ctx, d.id)
}

// RefreshComplexValue re-reads one service variable from the controller.
func (d *Device) RefreshComplexValue(ctx context.Context, variable string) (string, error) {
	service := d.serviceFor(variable)
	value, err := d.reg.client.GetVariable(ctx, d.id, service, variable)
	if err != nil {
		return "", fmt.Errorf("refreshing %s on device %d: %w", variable, d.id, err)
	}
	d.reg.applyServiceState(d.id, service, variable, value)
	return value, nil
}

func (d *Device) BatteryLevel() (int, bool) {
	return d.intValue("batterylevel")
}

func (d *Device) HasBattery() bool {
	_, ok := d.Value("batterylevel")
	return ok
}

// Power is the current draw in watts.
func (d *Device) Power() (float64, bool) {
	return d.floatValue("watts")
}

func (d *Device) CommFailure() bool {
	v, _ := d.Value("commfailure")
	return v == "1"
}

func (d *Device) IsArmable() bool {
	_, ok := d.Value("armed")
	return ok
}

func (d *Device) IsTrippable() bool {
	_, ok := d.Value("tripped")
	return ok
}

func (d *Device) boolValue(name string) bool {
	v, _ := d.Value(name)
	return v == "1"
}

func (d *Device) intValue(name string) (int, bool) {
	v, ok := d.Value(name)
	if !ok {
		return 0, false
	}
	return atoi(v)
}

func (d *Device) floatValue(name string) (float64, bool) {
	v, ok := d.Value(name)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// send issues cmd and, with optimistic updates on, patches cache through the
// registry once the controller accepted it.
func (d *Device) send(ctx context.Context, cmd Command, cache map[string]string) error {
	if err := d.reg.client.SendCommand(ctx, d.id, cmd); err != nil {
		return fmt.Errorf("device %d %s: %w", d.id, cmd.Action, err)
	}
	d.reg.optimistic(d.id, cache)
	return nil
}

func (d *Device) callAction(ctx context.Context, service, action string, cache map[string]string) error {
	if err := d.reg.client.CallAction(ctx, d.id, service, action); err != nil {
		return fmt.Errorf("device %d %s: %w", d.id, action, err)
	}
	d.reg.optimistic(d.id, cache)
	return nil
}
