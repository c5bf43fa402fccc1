package vera

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"vera-home/internal/domain"
)

// RefreshResult lists the ids that changed membership in one Refresh.
type RefreshResult struct {
	Added   []int
	Removed []int
	Updated []int
}

func (r RefreshResult) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Updated) == 0
}

// Registry owns the device set of one controller.
type Registry struct {
	client       *Client
	logger       *slog.Logger
	optimisticOn bool

	mu      sync.RWMutex
	devices map[int]*Device
	scenes  []domain.Scene
	rooms   []domain.Room
	info    ControllerInfo
}

func NewRegistry(client *Client, logger *slog.Logger, optimisticUpdates bool) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		client:       client,
		logger:       logger,
		optimisticOn: optimisticUpdates,
		devices:      make(map[int]*Device),
	}
}

// Refresh fetches a full snapshot and reconciles the device set. On error
// the registry is left untouched. Attributes applied while the snapshot was
// in flight are kept.
func (r *Registry) Refresh(ctx context.Context) (RefreshResult, error) {
	fetchedAt := time.Now()
	snap, err := r.client.FetchDevices(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("fetching devices: %w", err)
	}

	var result RefreshResult

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int]bool, len(snap.Devices))
	for _, data := range snap.Devices {
		if seen[data.ID] {
			continue
		}
		seen[data.ID] = true

		existing, ok := r.devices[data.ID]
		switch {
		case !ok:
			r.devices[data.ID] = newDevice(data, r)
			result.Added = append(result.Added, data.ID)
		case existing.category != data.Category:
			r.logger.Warn("device changed category, replacing",
				"device", data.ID,
				"from", existing.category.String(),
				"to", data.Category.String(),
			)
			r.devices[data.ID] = newDevice(data, r)
			result.Updated = append(result.Updated, data.ID)
		default:
			existing.load(data, fetchedAt)
		}
	}

	for id := range r.devices {
		if !seen[id] {
			delete(r.devices, id)
			result.Removed = append(result.Removed, id)
		}
	}
	sort.Ints(result.Removed)

	r.scenes = snap.Scenes
	r.rooms = snap.Rooms
	r.info = snap.Info

	r.logger.Info("registry refreshed",
		"devices", len(r.devices),
		"scenes", len(r.scenes),
		"added", len(result.Added),
		"removed", len(result.Removed),
	)

	return result, nil
}

// Apply merges the listed attributes into the matching device. Unknown ids
// are ignored.
func (r *Registry) Apply(update domain.StateUpdate) bool {
	r.mu.RLock()
	d, ok := r.devices[update.DeviceID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("update for unknown device ignored", "device", update.DeviceID)
		return false
	}
	d.merge(update)
	return true
}

func (r *Registry) applyServiceState(id int, service, variable, value string) {
	r.mu.RLock()
	d, ok := r.devices[id]
	r.mu.RUnlock()
	if ok {
		d.setState(service, variable, value)
	}
}

func (r *Registry) refreshDevice(ctx context.Context, id int) error {
	attrs, err := r.client.deviceAttributes(ctx, id)
	if err != nil {
		return fmt.Errorf("refreshing device %d: %w", id, err)
	}
	if !r.Apply(domain.StateUpdate{DeviceID: id, Attributes: attrs, JobState: domain.JobStateNotPresent, Timestamp: time.Now()}) {
		return fmt.Errorf("refreshing device %d: %w", id, ErrDeviceNotFound)
	}
	return nil
}

func (r *Registry) optimistic(id int, attrs map[string]string) {
	if !r.optimisticOn || len(attrs) == 0 {
		return
	}
	r.Apply(domain.StateUpdate{
		DeviceID:   id,
		Attributes: attrs,
		JobState:   domain.JobStateNotPresent,
		Timestamp:  time.Now(),
	})
}

// Devices returns the devices in the given categories, or all of them,
// ordered by id.
func (r *Registry) Devices(categories ...domain.Category) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		if len(categories) > 0 && !hasCategory(categories, d.category) {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].id < result[j].id })
	return result
}

func hasCategory(list []domain.Category, c domain.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func (r *Registry) Device(id int) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// DeviceByName matches case-insensitively, exact names first and then
// substrings.
func (r *Registry) DeviceByName(name string) (*Device, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, false
	}

	devices := r.Devices()
	for _, d := range devices {
		if strings.ToLower(d.Name()) == key {
			return d, true
		}
	}
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name()), key) {
			return d, true
		}
	}
	return nil, false
}

func (r *Registry) Scenes() []domain.Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Scene, len(r.scenes))
	copy(result, r.scenes)
	return result
}

func (r *Registry) Scene(id int) (domain.Scene, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.scenes {
		if s.ID == id {
			return s, true
		}
	}
	return domain.Scene{}, false
}

func (r *Registry) SceneByName(name string) (domain.Scene, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	scenes := r.Scenes()
	for _, s := range scenes {
		if strings.ToLower(s.Name) == key {
			return s, true
		}
	}
	for _, s := range scenes {
		if key != "" && strings.Contains(strings.ToLower(s.Name), key) {
			return s, true
		}
	}
	return domain.Scene{}, false
}

func (r *Registry) Rooms() []domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Room, len(r.rooms))
	copy(result, r.rooms)
	return result
}

func (r *Registry) Info() ControllerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

func (r *Registry) Summary() string {
	var sb strings.Builder

	sb.WriteString("## Devices:\n")
	for _, d := range r.Devices() {
		status := "ok"
		if d.CommFailure() {
			status = "comm failure"
		}
		sb.WriteString(fmt.Sprintf("- %s (id: %d, type: %s, state: %s)\n", d.Name(), d.ID(), d.Category(), status))
	}

	sb.WriteString("\n## Scenes:\n")
	for _, s := range r.Scenes() {
		sb.WriteString(fmt.Sprintf("- %s (id: %d)\n", s.Name, s.ID))
	}

	return sb.String()
}

// StartPeriodicSync refreshes the device set on every tick until ctx ends.
func (r *Registry) StartPeriodicSync(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Refresh(ctx); err != nil {
					r.logger.Error("periodic sync failed", "error", err)
				}
			}
		}
	}()
}
