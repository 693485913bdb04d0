package thermoflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/thermoflow/internal/adapters/bus/membus"
	"github.com/ghalamif/thermoflow/internal/adapters/bus/netbus"
	"github.com/ghalamif/thermoflow/internal/adapters/httpapi"
	"github.com/ghalamif/thermoflow/internal/adapters/observability"
	"github.com/ghalamif/thermoflow/internal/adapters/store/memstore"
	"github.com/ghalamif/thermoflow/internal/adapters/store/pgstore"
	"github.com/ghalamif/thermoflow/internal/adapters/storeclient"
	"github.com/ghalamif/thermoflow/internal/app/breaker"
	"github.com/ghalamif/thermoflow/internal/app/config"
	"github.com/ghalamif/thermoflow/internal/app/gateway"
	"github.com/ghalamif/thermoflow/internal/app/persister"
	"github.com/ghalamif/thermoflow/internal/app/producer"
	"github.com/ghalamif/thermoflow/internal/clock"
	"github.com/ghalamif/thermoflow/internal/logging"
	"github.com/ghalamif/thermoflow/internal/ports"
)

// Option customizes the dependencies used by Runtime.
type Option func(*runtimeOverrides)

type runtimeOverrides struct {
	bus           Bus
	store         RecordStore
	clock         Clock
	observability Observability
	services      []Service
}

// WithBus injects the bus shared by all hosted services. The runtime does not
// close an injected bus.
func WithBus(b Bus) Option {
	return func(o *runtimeOverrides) {
		o.bus = b
	}
}

// WithStore replaces the configured storage driver.
func WithStore(s RecordStore) Option {
	return func(o *runtimeOverrides) {
		o.store = s
	}
}

// WithClock overrides the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(o *runtimeOverrides) {
		o.clock = c
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) Option {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithServices limits the runtime to the given services.
func WithServices(services ...Service) Option {
	return func(o *runtimeOverrides) {
		o.services = append([]Service(nil), services...)
	}
}

// Runtime hosts any subset of producer, store and gateway in one process,
// wired to one bus, plus a Prometheus metrics listener.
type Runtime struct {
	cfg      *Config
	obs      ports.Observability
	logger   *slog.Logger
	registry *prometheus.Registry
	clock    clock.Clock
	bus      ports.Bus
	ownsBus  bool
	store    ports.RecordStore
	closer   io.Closer
	services map[Service]bool

	producer  *producer.Producer
	persister *persister.Persister
	gateway   *gateway.Gateway

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
	servers  []*listener
	subs     []ports.Subscription
}

type listener struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

// NewRuntime builds the services selected by opts (all by default) from cfg.
// Nothing listens until Start or Run.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	r := &Runtime{
		cfg:      cfg,
		logger:   logging.Component("runtime"),
		registry: prometheus.NewRegistry(),
		services: make(map[Service]bool),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	services := overrides.services
	if len(services) == 0 {
		services = AllServices
	}
	for _, s := range services {
		r.services[s] = true
	}

	r.obs = overrides.observability
	if r.obs == nil {
		r.obs = observability.NewPromObs(r.registry, logging.Component("thermoflow"))
	}

	r.clock = overrides.clock
	if r.clock == nil {
		r.clock = clock.Real()
	}

	r.bus = overrides.bus
	if r.bus == nil {
		b, err := newBus(cfg.Bus, r.obs)
		if err != nil {
			return nil, err
		}
		r.bus = b
		r.ownsBus = true
	}

	if r.services[ServiceStore] {
		r.store = overrides.store
		if r.store == nil {
			s, closer, err := openStore(cfg.Store)
			if err != nil {
				r.closeBus()
				return nil, err
			}
			r.store, r.closer = s, closer
		}
		r.persister = persister.New(r.store, r.obs, r.clock)
	}

	if r.services[ServiceProducer] {
		r.producer = producer.New(producer.Config{
			SourceID:     cfg.Producer.SourceID,
			Interval:     cfg.Producer.Interval,
			StdDev:       cfg.Producer.StdDevValue(),
			InitialValue: cfg.Producer.InitialValueValue(),
			Clock:        r.clock,
		}, r.bus, r.obs)
	}

	if r.services[ServiceGateway] {
		br := breaker.New(breaker.Config{
			FailureThreshold: cfg.Gateway.Breaker.FailureThreshold,
			Cooldown:         cfg.Gateway.Breaker.Cooldown,
			CallTimeout:      cfg.Gateway.Breaker.CallTimeout,
			Clock:            r.clock,
			OnStateChange:    gateway.BreakerObserver(r.obs),
		})
		r.gateway = gateway.New(storeclient.New(cfg.Gateway.UpstreamURL, nil), br, r.obs, r.clock)
	}

	return r, nil
}

func newBus(cfg config.BusConfig, obs ports.Observability) (ports.Bus, error) {
	switch cfg.Mode {
	case "", config.BusMemory:
		return membus.New(cfg.MailboxLen, obs), nil
	case config.BusTCP:
		return netbus.NewClient(netbus.ClientConfig{
			Addr:           cfg.Addr,
			MailboxLen:     cfg.MailboxLen,
			RedialInterval: cfg.RedialInterval,
		}, obs), nil
	default:
		return nil, fmt.Errorf("unknown bus mode %q", cfg.Mode)
	}
}

func openStore(cfg config.StoreConfig) (ports.RecordStore, io.Closer, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return memstore.New(), nil, nil
	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := pgstore.Open(ctx, cfg.ConnString, cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Registry is the Prometheus registry served on the metrics listener.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

// OnSample subscribes fn to the telemetry topic on the runtime's bus.
func (r *Runtime) OnSample(name string, fn SampleFunc) (Subscription, error) {
	return r.bus.Subscribe(TelemetryTopic, name, NewSampleHandler(fn))
}

// Latest returns the gateway's latest sample per source.
func (r *Runtime) Latest() ([]Sample, error) {
	if r.gateway == nil {
		return nil, fmt.Errorf("gateway service is not enabled")
	}
	return r.gateway.Latest()
}

// Addr reports the bound address of a service listener, or "" before Start.
// "metrics" names the metrics listener.
func (r *Runtime) Addr(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.servers {
		if l.name == name {
			return l.ln.Addr().String()
		}
	}
	return ""
}

// Start binds every listener, registers the bus subscriptions, and starts the
// producer ticker. It returns immediately; call Run to block on a context
// instead.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	var handlers []*listener
	bind := func(name, addr string, h http.Handler) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("%s listen %s: %w", name, addr, err)
		}
		handlers = append(handlers, &listener{name: name, srv: httpapi.NewServer(addr, h), ln: ln})
		return nil
	}
	fail := func(err error) error {
		for _, l := range handlers {
			_ = l.ln.Close()
		}
		cancel()
		return err
	}

	if r.producer != nil {
		if err := bind(string(ServiceProducer), r.cfg.Producer.Addr, httpapi.ProducerRouter(r.producer, logging.Component("producer"))); err != nil {
			return fail(err)
		}
	}
	if r.persister != nil {
		if err := bind(string(ServiceStore), r.cfg.Store.Addr, httpapi.StoreRouter(r.persister, r.cfg.Store.Window, logging.Component("store"))); err != nil {
			return fail(err)
		}
	}
	if r.gateway != nil {
		if err := bind(string(ServiceGateway), r.cfg.Gateway.Addr, httpapi.GatewayRouter(r.gateway, logging.Component("gateway"))); err != nil {
			return fail(err)
		}
	}
	if r.cfg.Metrics.Addr != "" {
		if err := bind("metrics", r.cfg.Metrics.Addr, r.metricsHandler()); err != nil {
			return fail(err)
		}
	}

	if r.persister != nil {
		sub, err := r.bus.Subscribe(TelemetryTopic, "persister", r.persister.Handle)
		if err != nil {
			return fail(err)
		}
		r.subs = append(r.subs, sub)
	}
	if r.gateway != nil {
		sub, err := r.bus.Subscribe(TelemetryTopic, "gateway-latest", r.gateway.Handle)
		if err != nil {
			r.cancelSubs()
			return fail(err)
		}
		r.subs = append(r.subs, sub)
	}

	for _, l := range handlers {
		l := l
		r.logger.Info("http server running", "service", l.name, "addr", l.ln.Addr().String())
		g.Go(func() error {
			if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", l.name, err)
			}
			return nil
		})
	}
	if r.producer != nil {
		g.Go(func() error { return r.producer.Run(gctx) })
	}

	r.servers = handlers
	r.cancel = cancel
	r.group = g
	r.groupCtx = gctx
	r.started = true
	return nil
}

var errAlreadyStarted = errors.New("runtime already started")

// Run starts the runtime and blocks until ctx is cancelled or a listener
// fails, then shuts down gracefully. A failed start still closes the bus and
// store the runtime opened.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		if errors.Is(err, errAlreadyStarted) {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		return errors.Join(err, r.closeOwned())
	}
	select {
	case <-ctx.Done():
	case <-r.groupCtx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the listeners and the producer, cancels bus subscriptions,
// and closes the bus and store when the runtime opened them.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.started {
		for _, l := range r.servers {
			if err := l.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		r.cancel()
		if err := r.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		r.cancelSubs()
		r.started = false
	}

	if err := r.closeOwned(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// closeOwned closes the bus and store opened by NewRuntime. r.mu must be held.
func (r *Runtime) closeOwned() error {
	var errs []error
	if err := r.closeBus(); err != nil {
		errs = append(errs, err)
	}
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			errs = append(errs, err)
		}
		r.closer = nil
	}
	return errors.Join(errs...)
}

func (r *Runtime) cancelSubs() {
	for _, s := range r.subs {
		s.Cancel()
	}
	r.subs = nil
}

func (r *Runtime) closeBus() error {
	if !r.ownsBus || r.bus == nil {
		return nil
	}
	r.ownsBus = false
	return r.bus.Close()
}

func (r *Runtime) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
