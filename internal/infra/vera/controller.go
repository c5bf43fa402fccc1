package vera

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"vera-home/internal/domain"
	"vera-home/internal/infra"
)

type options struct {
	logger         *slog.Logger
	httpClient     *http.Client
	retry          infra.RetryConfig
	requestTimeout time.Duration
	pollTimeout    time.Duration
	minDelay       time.Duration
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	maxFailures    int
	optimistic     bool
	syncInterval   time.Duration
	onError        func(error)
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithRetry sets the retry policy for reads (sdata, status, variableget).
func WithRetry(cfg infra.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithPollTimeout sets how long the controller may hold a poll open.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) { o.pollTimeout = d }
}

func WithMinDelay(d time.Duration) Option {
	return func(o *options) { o.minDelay = d }
}

// WithBackoff sets the delay after a failed poll and its ceiling.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(o *options) {
		o.retryDelay = initial
		o.maxRetryDelay = maxDelay
	}
}

func WithMaxFailures(n int) Option {
	return func(o *options) { o.maxFailures = n }
}

// WithOptimisticUpdates patches the cache right after an accepted command
// instead of waiting for the next poll.
func WithOptimisticUpdates(enabled bool) Option {
	return func(o *options) { o.optimistic = enabled }
}

// WithSyncInterval re-reads the whole device list periodically so added and
// removed devices are picked up.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) { o.syncInterval = d }
}

// WithErrorHandler is called once if the subscription gives up.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// Controller ties a client, its registry and the polling loop together.
type Controller struct {
	client       *Client
	registry     *Registry
	sub          *Subscription
	logger       *slog.Logger
	syncInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(baseURL string, opts ...Option) (*Controller, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	logger := o.logger.With("component", "vera")

	client, err := NewClient(ClientConfig{
		BaseURL:        baseURL,
		HTTPClient:     o.httpClient,
		Retry:          o.retry,
		RequestTimeout: o.requestTimeout,
		PollTimeout:    o.pollTimeout,
		MinDelay:       o.minDelay,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(client, logger, o.optimistic)
	sub := NewSubscription(client, registry, logger, SubscriptionConfig{
		MinDelay:      o.minDelay,
		RetryDelay:    o.retryDelay,
		MaxRetryDelay: o.maxRetryDelay,
		MaxFailures:   o.maxFailures,
		OnError:       o.onError,
	})

	return &Controller{
		client:       client,
		registry:     registry,
		sub:          sub,
		logger:       logger,
		syncInterval: o.syncInterval,
	}, nil
}

// Start loads the device list and starts the polling loop.
func (c *Controller) Start(ctx context.Context) error {
	if _, err := c.registry.Refresh(ctx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := c.sub.Start(ctx); err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if c.syncInterval > 0 {
		c.registry.StartPeriodicSync(ctx, c.syncInterval)
	}

	info := c.registry.Info()
	c.logger.Info("controller started",
		"url", c.client.BaseURL(),
		"model", info.Model,
		"version", info.Version,
		"devices", len(c.registry.Devices()),
	)
	return nil
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.sub.Stop()
}

func (c *Controller) Wait() error           { return c.sub.Wait() }
func (c *Controller) Done() <-chan struct{} { return c.sub.Done() }
func (c *Controller) Err() error            { return c.sub.Err() }
func (c *Controller) State() State          { return c.sub.State() }

func (c *Controller) Client() *Client     { return c.client }
func (c *Controller) Registry() *Registry { return c.registry }

func (c *Controller) Refresh(ctx context.Context) (RefreshResult, error) {
	return c.registry.Refresh(ctx)
}

func (c *Controller) Info() ControllerInfo { return c.registry.Info() }

// RefreshInfo re-reads model, version, serial and units without touching
// the device set.
func (c *Controller) RefreshInfo(ctx context.Context) (ControllerInfo, error) {
	info, err := c.client.ControllerInfo(ctx)
	if err != nil {
		return ControllerInfo{}, fmt.Errorf("refreshing controller info: %w", err)
	}
	c.registry.mu.Lock()
	c.registry.info = info
	c.registry.mu.Unlock()
	return info, nil
}

func (c *Controller) Devices(categories ...domain.Category) []*Device {
	return c.registry.Devices(categories...)
}

func (c *Controller) Device(id int) (*Device, error) {
	d, ok := c.registry.Device(id)
	if !ok {
		return nil, fmt.Errorf("device %d: %w", id, ErrDeviceNotFound)
	}
	return d, nil
}

func (c *Controller) DeviceByName(name string) (*Device, error) {
	d, ok := c.registry.DeviceByName(name)
	if !ok {
		return nil, fmt.Errorf("device %q: %w", name, ErrDeviceNotFound)
	}
	return d, nil
}

func (c *Controller) Scenes() []domain.Scene { return c.registry.Scenes() }
func (c *Controller) Rooms() []domain.Room   { return c.registry.Rooms() }
func (c *Controller) Summary() string        { return c.registry.Summary() }

func (c *Controller) RunScene(ctx context.Context, sceneID int) error {
	if _, ok := c.registry.Scene(sceneID); !ok {
		return fmt.Errorf("scene %d: %w", sceneID, ErrSceneNotFound)
	}
	if err := c.client.RunScene(ctx, sceneID); err != nil {
		return fmt.Errorf("running scene %d: %w", sceneID, err)
	}
	return nil
}

func (c *Controller) Register(deviceID int, l Listener) func() {
	return c.sub.Register(deviceID, l)
}

func (c *Controller) RegisterAll(l Listener) func() {
	return c.sub.RegisterAll(l)
}

func (c *Controller) typed(id int, categories ...domain.Category) (*Device, error) {
	d, err := c.Device(id)
	if err != nil {
		return nil, err
	}
	if !hasCategory(categories, d.Category()) {
		return nil, fmt.Errorf("device %d is a %s: %w", id, d.Category(), ErrWrongCategory)
	}
	return d, nil
}

func (c *Controller) Switch(id int) (*Switch, error) {
	d, err := c.typed(id, domain.CategorySwitch, domain.CategoryGarageDoor)
	if err != nil {
		return nil, err
	}
	return &Switch{d}, nil
}

func (c *Controller) Dimmer(id int) (*Dimmer, error) {
	d, err := c.typed(id, domain.CategoryDimmer)
	if err != nil {
		return nil, err
	}
	return &Dimmer{Switch{d}}, nil
}

func (c *Controller) Lock(id int) (*Lock, error) {
	d, err := c.typed(id, domain.CategoryLock)
	if err != nil {
		return nil, err
	}
	return &Lock{d}, nil
}

func (c *Controller) BinarySensor(id int) (*BinarySensor, error) {
	d, err := c.typed(id, domain.CategoryArmable, domain.CategorySensor)
	if err != nil {
		return nil, err
	}
	return &BinarySensor{d}, nil
}

func (c *Controller) Sensor(id int) (*Sensor, error) {
	d, err := c.typed(id,
		domain.CategoryTemperatureSensor,
		domain.CategoryHumiditySensor,
		domain.CategoryLightSensor,
		domain.CategoryUVSensor,
		domain.CategoryPowerMeter,
	)
	if err != nil {
		return nil, err
	}
	return &Sensor{d}, nil
}

func (c *Controller) Curtain(id int) (*Curtain, error) {
	d, err := c.typed(id, domain.CategoryCurtain)
	if err != nil {
		return nil, err
	}
	return &Curtain{d}, nil
}

func (c *Controller) Thermostat(id int) (*Thermostat, error) {
	d, err := c.typed(id, domain.CategoryThermostat)
	if err != nil {
		return nil, err
	}
	return &Thermostat{d}, nil
}

func (c *Controller) SceneController(id int) (*SceneController, error) {
	d, err := c.typed(id, domain.CategorySceneController)
	if err != nil {
		return nil, err
	}
	return &SceneController{d}, nil
}

// View returns the category-specific wrapper for d, or d itself for
// categories without one.
func View(d *Device) Capable {
	switch d.Category() {
	case domain.CategorySwitch, domain.CategoryGarageDoor:
		return &Switch{d}
	case domain.CategoryDimmer:
		return &Dimmer{Switch{d}}
	case domain.CategoryLock:
		return &Lock{d}
	case domain.CategoryArmable, domain.CategorySensor:
		return &BinarySensor{d}
	case domain.CategoryTemperatureSensor, domain.CategoryHumiditySensor,
		domain.CategoryLightSensor, domain.CategoryUVSensor, domain.CategoryPowerMeter:
		return &Sensor{d}
	case domain.CategoryCurtain:
		return &Curtain{d}
	case domain.CategoryThermostat:
		return &Thermostat{d}
	case domain.CategorySceneController:
		return &SceneController{d}
	default:
		return d
	}
}
