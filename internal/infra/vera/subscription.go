package vera

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vera-home/internal/domain"
	"vera-home/internal/infra"
)

type State int32

const (
	StateIdle State = iota
	StatePolling
	StateApplying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateApplying:
		return "applying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Listener is called after an accepted update has been applied to d.
type Listener func(d *Device, update domain.StateUpdate)

type poller interface {
	Poll(ctx context.Context, cursor Cursor) (*PollResult, error)
}

type SubscriptionConfig struct {
	// MinDelay spaces out polls that came back without changes.
	MinDelay      time.Duration
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	MaxFailures   int
	OnError       func(error)
}

// Subscription runs the long-poll loop. It is the only writer of polled
// state into the registry.
type Subscription struct {
	client   poller
	registry *Registry
	logger   *slog.Logger
	cfg      SubscriptionConfig

	state atomic.Int32

	mu        sync.Mutex
	listeners map[int]map[uint64]Listener
	global    map[uint64]Listener
	nextID    uint64
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

func NewSubscription(client poller, registry *Registry, logger *slog.Logger, cfg SubscriptionConfig) *Subscription {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MinDelay == 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 60 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 10
	}
	return &Subscription{
		client:    client,
		registry:  registry,
		logger:    logger,
		cfg:       cfg,
		listeners: make(map[int]map[uint64]Listener),
		global:    make(map[uint64]Listener),
	}
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

func (s *Subscription) setState(st State) {
	s.state.Store(int32(st))
}

// Start launches the polling goroutine.
func (s *Subscription) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrAlreadyStarted
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.setState(StateIdle)

	go s.run(ctx, s.done)
	return nil
}

// Stop cancels the in-flight poll and waits for the loop to exit.
func (s *Subscription) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = s.Wait()
}

// Wait blocks until the loop has exited.
func (s *Subscription) Wait() error {
	done := s.Done()
	if done == nil {
		return ErrNotStarted
	}
	<-done
	return s.Err()
}

// Done is closed once the loop has exited. It is nil before Start.
func (s *Subscription) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return nil
	}
	return s.done
}

// Err returns the terminal error, or nil when the loop was stopped on request.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Register(deviceID int, l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.listeners[deviceID] == nil {
		s.listeners[deviceID] = make(map[uint64]Listener)
	}
	s.listeners[deviceID][id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[deviceID], id)
		if len(s.listeners[deviceID]) == 0 {
			delete(s.listeners, deviceID)
		}
	}
}

func (s *Subscription) RegisterAll(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.global[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.global, id)
	}
}

func (s *Subscription) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(StateStopped)

	s.logger.Info("subscription started")

	backoff := infra.NewBackoff(infra.RetryConfig{
		InitialDelay: s.cfg.RetryDelay,
		MaxDelay:     s.cfg.MaxRetryDelay,
		Multiplier:   2,
	})
	var cursor Cursor
	failures := 0

	for {
		if ctx.Err() != nil {
			s.logger.Info("subscription stopped")
			return
		}

		s.setState(StatePolling)
		result, err := s.client.Poll(ctx, cursor)
		if err != nil {
			s.setState(StateIdle)
			if ctx.Err() != nil {
				s.logger.Info("subscription stopped")
				return
			}
			if errors.Is(err, ErrPollTimeout) {
				// re-poll with the same cursor, never faster than MinDelay
				if infra.Sleep(ctx, s.cfg.MinDelay) != nil {
					s.logger.Info("subscription stopped")
					return
				}
				continue
			}

			failures++
			if s.cfg.MaxFailures > 0 && failures >= s.cfg.MaxFailures {
				s.fail(&SubscriptionError{Failures: failures, Err: err})
				return
			}

			delay := backoff.Next()
			s.logger.Warn("poll failed, retrying",
				"error", err,
				"failures", failures,
				"retry_in", delay,
			)
			if infra.Sleep(ctx, delay) != nil {
				s.logger.Info("subscription stopped")
				return
			}
			continue
		}

		failures = 0
		backoff.Reset()

		s.setState(StateApplying)
		s.dispatch(result.Updates)
		cursor = result.Cursor
		s.setState(StateIdle)
	}
}

func (s *Subscription) fail(err error) {
	s.logger.Error("subscription giving up", "error", err)

	s.mu.Lock()
	s.err = err
	onError := s.cfg.OnError
	s.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

func (s *Subscription) dispatch(updates []domain.StateUpdate) {
	for _, u := range updates {
		d, ok := s.registry.Device(u.DeviceID)
		if !ok {
			s.registry.Apply(u)
			continue
		}
		if !s.accept(d, u) {
			continue
		}
		if !s.registry.Apply(u) {
			continue
		}
		for _, l := range s.listenersFor(u.DeviceID) {
			l(d, u)
		}
	}
}

func (s *Subscription) listenersFor(deviceID int) []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Listener, 0, len(s.listeners[deviceID])+len(s.global))
	for _, l := range s.listeners[deviceID] {
		result = append(result, l)
	}
	for _, l := range s.global {
		result = append(result, l)
	}
	return result
}

// accept applies the job-state rules: updates that describe a job still in
// flight are held back until the controller reports a settled state.
func (s *Subscription) accept(d *Device, u domain.StateUpdate) bool {
	state := u.JobState
	if state == domain.JobStateNoJob && strings.Contains(u.Comment, "Sending") {
		state = domain.JobStateWaitingToStart
	}
	if d.Category() == domain.CategoryLock && state == domain.JobStateInProgress &&
		strings.Contains(u.Comment, "SUCCESS!") {
		state = domain.JobStateDone
	}

	switch state {
	case domain.JobStateWaitingToStart,
		domain.JobStateInProgress,
		domain.JobStateWaitingForCallback,
		domain.JobStateRequeue,
		domain.JobStatePendingData:
		s.logger.Debug("skipping update for pending job", "device", d.ID(), "state", state, "comment", u.Comment)
		return false
	case domain.JobStateDone, domain.JobStateNotPresent, domain.JobStateNoJob:
		return true
	case domain.JobStateError:
		if strings.Contains(u.Comment, "Setting user configuration") {
			return true
		}
	}

	s.logger.Error("device reported job error", "device", d.Name(), "state", state, "comment", u.Comment)
	return false
}
