package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vera-home/internal/domain"
	"vera-home/internal/infra/history"
	"vera-home/internal/infra/vera"
)

const defaultQueueSize = 256

var (
	ErrInvalidCommand    = errors.New("invalid command")
	ErrUnsupportedAction = errors.New("action not supported by device")
)

type stateEvent struct {
	snap domain.DeviceSnapshot
}

// Bridge connects the controller to the state sinks and executes commands
// coming from the API, MQTT and MCP surfaces.
type Bridge struct {
	ctl       *vera.Controller
	sinks     []StateSink
	validator ParamValidator
	recorder  CommandRecorder
	notifier  Notifier
	logger    *slog.Logger
	queueSize int
}

type BridgeOption func(*Bridge)

func WithSinks(sinks ...StateSink) BridgeOption {
	return func(b *Bridge) { b.sinks = append(b.sinks, sinks...) }
}

func WithValidator(v ParamValidator) BridgeOption {
	return func(b *Bridge) { b.validator = v }
}

func WithRecorder(r CommandRecorder) BridgeOption {
	return func(b *Bridge) { b.recorder = r }
}

func WithNotifier(n Notifier) BridgeOption {
	return func(b *Bridge) { b.notifier = n }
}

func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) { b.queueSize = n }
}

func NewBridge(ctl *vera.Controller, logger *slog.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		ctl:       ctl,
		notifier:  &NoopNotifier{},
		logger:    logger,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

func (b *Bridge) Controller() *vera.Controller { return b.ctl }

// Run starts the controller and forwards updates to the sinks until ctx is
// cancelled or the polling loop gives up.
func (b *Bridge) Run(ctx context.Context) error {
	queue := make(chan stateEvent, b.queueSize)
	unregister := b.ctl.RegisterAll(func(d *vera.Device, u domain.StateUpdate) {
		snap := d.Snapshot()
		// sinks see the alerts raised by this update, not the device's last ones
		snap.Alerts = append([]domain.Alert(nil), u.Alerts...)
		select {
		case queue <- stateEvent{snap: snap}:
		default:
			b.logger.Warn("state queue full, dropping update", "device_id", d.ID())
		}
	})

	if err := b.ctl.Start(ctx); err != nil {
		unregister()
		return fmt.Errorf("starting controller: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.dispatch(ctx, queue)
	}()

	b.logger.Info("bridge running", "sinks", len(b.sinks), "devices", len(b.ctl.Devices()))

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case <-b.ctl.Done():
		runErr = b.ctl.Err()
		if runErr != nil {
			b.logger.Error("subscription stopped", "error", runErr)
			b.notify(context.WithoutCancel(ctx), true, fmt.Sprintf("Vera polling stopped: %v", runErr))
		}
	}

	unregister()
	b.ctl.Stop()
	close(queue)
	wg.Wait()

	return runErr
}

func (b *Bridge) dispatch(ctx context.Context, queue <-chan stateEvent) {
	// sinks get a context that survives shutdown so the tail of the queue drains
	sinkCtx := context.WithoutCancel(ctx)
	for ev := range queue {
		for _, sink := range b.sinks {
			if err := sink.HandleState(sinkCtx, ev.snap); err != nil {
				b.logger.Warn("state sink failed", "sink", sink.Name(), "device_id", ev.snap.ID, "error", err)
			}
		}
		for _, alert := range ev.snap.Alerts {
			b.notify(sinkCtx, alert.Severity >= 2, fmt.Sprintf("%s: %s", ev.snap.Name, alert.Description))
		}
	}
}

func (b *Bridge) notify(ctx context.Context, urgent bool, message string) {
	var err error
	if u, ok := b.notifier.(UrgentNotifier); ok && urgent {
		err = u.NotifyUrgent(ctx, message)
	} else {
		err = b.notifier.Notify(ctx, message)
	}
	if err != nil {
		b.logger.Error("notifying", "error", err)
	}
}

// Execute validates and runs a command, records it and reports failures.
func (b *Bridge) Execute(ctx context.Context, cmd *domain.Command) (string, error) {
	result, err := b.execute(ctx, cmd)

	if b.recorder != nil {
		rec := history.CommandRecord{
			DeviceID:   cmd.TargetID,
			TargetType: string(cmd.TargetType),
			Action:     string(cmd.Action),
			Parameters: cmd.Parameters,
			Source:     cmd.Source,
			Result:     result,
			RecordedAt: time.Now(),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if recErr := b.recorder.RecordCommand(context.WithoutCancel(ctx), rec); recErr != nil {
			b.logger.Warn("recording command", "error", recErr)
		}
	}

	if err != nil {
		b.logger.Error("command failed", "action", cmd.Action, "target", cmd.TargetName, "target_id", cmd.TargetID, "error", err)
		if !errors.Is(err, ErrInvalidCommand) {
			b.notify(ctx, false, fmt.Sprintf("Error: %s", err.Error()))
		}
		return "", err
	}

	b.logger.Info("command executed", "action", cmd.Action, "target", cmd.TargetName, "source", cmd.Source)
	return result, nil
}

func (b *Bridge) execute(ctx context.Context, cmd *domain.Command) (string, error) {
	if cmd.Action == "" || cmd.Action == domain.ActionUnknown {
		return "", fmt.Errorf("%w: missing action", ErrInvalidCommand)
	}
	if b.validator != nil {
		if err := b.validator.Validate(cmd.Action, cmd.Parameters); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
	}

	if cmd.TargetType == domain.TargetTypeScene || cmd.Action == domain.ActionRunScene {
		cmd.TargetType = domain.TargetTypeScene
		return b.runScene(ctx, cmd)
	}
	cmd.TargetType = domain.TargetTypeDevice

	d, err := b.resolveDevice(cmd)
	if err != nil {
		return "", err
	}
	cmd.TargetID = d.ID()
	cmd.TargetName = d.Name()

	if err := b.apply(ctx, vera.View(d), cmd); err != nil {
		return "", err
	}
	if cmd.Action == domain.ActionGetStatus {
		return describe(d.Snapshot()), nil
	}
	return fmt.Sprintf("Command '%s' executed on '%s'", cmd.Action, d.Name()), nil
}

func (b *Bridge) resolveDevice(cmd *domain.Command) (*vera.Device, error) {
	if cmd.TargetID > 0 {
		return b.ctl.Device(cmd.TargetID)
	}
	if cmd.TargetName != "" {
		return b.ctl.DeviceByName(cmd.TargetName)
	}
	return nil, fmt.Errorf("%w: no target", ErrInvalidCommand)
}

func (b *Bridge) runScene(ctx context.Context, cmd *domain.Command) (string, error) {
	reg := b.ctl.Registry()

	var (
		scene domain.Scene
		ok    bool
	)
	if cmd.TargetID > 0 {
		scene, ok = reg.Scene(cmd.TargetID)
	} else {
		scene, ok = reg.SceneByName(cmd.TargetName)
	}
	if !ok {
		return "", fmt.Errorf("scene %q: %w", cmd.TargetName, vera.ErrSceneNotFound)
	}
	cmd.TargetID = scene.ID
	cmd.TargetName = scene.Name

	if err := b.ctl.RunScene(ctx, scene.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Scene '%s' executed", scene.Name), nil
}

func (b *Bridge) apply(ctx context.Context, view vera.Capable, cmd *domain.Command) error {
	p := params(cmd.Parameters)

	switch cmd.Action {
	case domain.ActionGetStatus:
		return nil

	case domain.ActionTurnOn, domain.ActionTurnOff:
		on := cmd.Action == domain.ActionTurnOn
		switch v := view.(type) {
		case *vera.Switch:
			return onOff(ctx, on, v.SwitchOn, v.SwitchOff)
		case *vera.Dimmer:
			return onOff(ctx, on, v.SwitchOn, v.SwitchOff)
		case *vera.Thermostat:
			return onOff(ctx, on, v.AutoOn, v.TurnOff)
		}

	case domain.ActionSetLevel:
		switch v := view.(type) {
		case *vera.Dimmer:
			if br, ok := p.integer("brightness"); ok {
				return v.SetBrightness(ctx, br)
			}
			level, _ := p.integer("level")
			return v.SetLevel(ctx, level)
		case *vera.Curtain:
			level, ok := p.integer("level")
			if !ok {
				return fmt.Errorf("%w: curtains take a level", ErrInvalidCommand)
			}
			return v.SetLevel(ctx, level)
		}

	case domain.ActionSetColor:
		if v, ok := view.(*vera.Dimmer); ok {
			r, _ := p.integer("r")
			g, _ := p.integer("g")
			bl, _ := p.integer("b")
			return v.SetColor(ctx, [3]int{r, g, bl})
		}

	case domain.ActionLock, domain.ActionUnlock:
		if v, ok := view.(*vera.Lock); ok {
			return onOff(ctx, cmd.Action == domain.ActionLock, v.Lock, v.Unlock)
		}

	case domain.ActionOpen, domain.ActionClose, domain.ActionStop:
		if v, ok := view.(*vera.Curtain); ok {
			switch cmd.Action {
			case domain.ActionOpen:
				return v.Open(ctx)
			case domain.ActionClose:
				return v.Close(ctx)
			default:
				return v.Stop(ctx)
			}
		}

	case domain.ActionArm, domain.ActionDisarm:
		if v, ok := view.(*vera.BinarySensor); ok {
			return onOff(ctx, cmd.Action == domain.ActionArm, v.Arm, v.Disarm)
		}

	case domain.ActionSetTemperature:
		if v, ok := view.(*vera.Thermostat); ok {
			temp, _ := p.number("temperature")
			return v.SetTemperature(ctx, temp)
		}

	case domain.ActionSetHVACMode:
		if v, ok := view.(*vera.Thermostat); ok {
			return v.SetHVACMode(ctx, p.text("mode"))
		}

	case domain.ActionSetFanMode:
		if v, ok := view.(*vera.Thermostat); ok {
			return v.SetFanMode(ctx, p.text("mode"))
		}
	}

	return fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, cmd.Action, cmd.TargetName)
}

func onOff(ctx context.Context, on bool, onFn, offFn func(context.Context) error) error {
	if on {
		return onFn(ctx)
	}
	return offFn(ctx)
}
