package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/registry"
)

const tracerName = "github.com/drblury/relay"

// BrokerDependencies holds the optional collaborators of a Broker.
// Leave fields nil to use the defaults.
type BrokerDependencies struct {
	// Hooks run around every handler invocation.
	Hooks DeliveryHooks
	// MetricsRegistry receives the broker collectors. Defaults to a private
	// registry with the Go runtime and process collectors.
	MetricsRegistry *prometheus.Registry
	// TracerProvider defaults to the global OpenTelemetry provider.
	TracerProvider trace.TracerProvider
}

// routeTable maps a destination to its subscribers. Published tables are
// never mutated; writers build a copy and swap the pointer.
type routeTable map[DestinationID][]*Subscriber

// Broker routes envelopes from senders to subscribers.
type Broker struct {
	conf     configpkg.Config
	logger   loggingpkg.ServiceLogger
	registry *registry.Registry

	routes  atomic.Pointer[routeTable]
	writeMu sync.Mutex
	names   map[string]*Subscriber

	pool            *workerPool
	metrics         *BrokerMetrics
	metricsRegistry *prometheus.Registry
	hooks           DeliveryHooks
	tracer          trace.Tracer
	resources       *usageSampler

	httpMu      sync.Mutex
	httpMuxes   map[int]*http.ServeMux
	httpServers []*http.Server

	shutdown     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewBroker constructs a Broker and panics when the configuration is invalid.
// Use TryNewBroker to receive the error instead.
func NewBroker(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps BrokerDependencies) *Broker {
	b, err := TryNewBroker(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return b
}

// TryNewBroker constructs a Broker. Zero config values take their defaults.
// The metrics and introspection HTTP servers start here when enabled.
func TryNewBroker(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps BrokerDependencies) (*Broker, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	c := conf.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	reg := deps.MetricsRegistry
	if reg == nil {
		reg = newMetricsRegistry()
	}
	metrics := NewBrokerMetrics(reg)
	if err := metrics.Register(); err != nil {
		return nil, fmt.Errorf("relay: register metrics: %w", err)
	}

	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	b := &Broker{
		conf:            c,
		logger:          log,
		registry:        registry.New(),
		names:           make(map[string]*Subscriber),
		pool:            newWorkerPool(c.MaxWorkers, metrics),
		metrics:         metrics,
		metricsRegistry: reg,
		hooks:           deps.Hooks,
		tracer:          tp.Tracer(tracerName),
		resources:       newUsageSampler(),
	}
	empty := routeTable{}
	b.routes.Store(&empty)

	log.Info("Creating broker", loggingpkg.LogFields{"config": c})

	b.startMetricsServer()
	b.startWebUIServer()
	b.startHTTPServers()

	return b, nil
}

// Config returns the effective configuration, defaults applied.
func (b *Broker) Config() configpkg.Config { return b.conf }

// Registry returns the destination registry.
func (b *Broker) Registry() *registry.Registry { return b.registry }

// Metrics returns a snapshot of the broker counters.
func (b *Broker) Metrics() BrokerMetricsSnapshot { return b.metrics.Snapshot() }

// MetricsRegistry returns the Prometheus registry holding the broker collectors.
func (b *Broker) MetricsRegistry() *prometheus.Registry { return b.metricsRegistry }

// IsShutdown reports whether Shutdown has been called.
func (b *Broker) IsShutdown() bool { return b.shutdown.Load() }

// EnvelopeTo builds a sender-less envelope for the destination called name.
func (b *Broker) EnvelopeTo(name string, payload any) Envelope {
	return NewEnvelope(b.resolve(name), payload)
}

// resolve maps a destination name to its id. Unknown names become Drop unless
// AutoRegisterDestinations is set.
func (b *Broker) resolve(name string) DestinationID {
	if !b.conf.AutoRegisterDestinations {
		return b.registry.Resolve(name)
	}
	id, err := b.registry.Register(name)
	if err != nil {
		b.logger.Error("Failed to register destination, using DROP", err, loggingpkg.LogFields{"destination": name})
		return Drop
	}
	return id
}

// RegisterListener subscribes sub to its own name and to Broadcast. Queued
// subscribers get their mailbox here. Registering twice is a no-op.
func (b *Broker) RegisterListener(sub *Subscriber) error {
	if err := b.checkSubscriber(sub); err != nil {
		return err
	}
	id, err := b.registry.Register(sub.name)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.claimLocked(sub); err != nil {
		return err
	}
	b.addRoutesLocked(sub, id, Broadcast)

	b.logger.Info("Subscriber registered", loggingpkg.LogFields{
		"subscriber":     sub.name,
		"mode":           sub.mode.String(),
		"destination_id": uint32(id),
	})
	return nil
}

// RegisterExtraType additionally subscribes sub to the destination called
// name, registering the name when it is new.
func (b *Broker) RegisterExtraType(sub *Subscriber, name string) error {
	if err := b.checkSubscriber(sub); err != nil {
		return err
	}
	if name == registry.DropName {
		return fmt.Errorf("%w: %s", errspkg.ErrReservedDestination, name)
	}
	id, err := b.registry.Register(name)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.claimLocked(sub); err != nil {
		return err
	}
	b.addRoutesLocked(sub, id)

	b.logger.Debug("Subscriber added destination", loggingpkg.LogFields{
		"subscriber":  sub.name,
		"destination": name,
	})
	return nil
}

// UnregisterListener removes sub from every destination it is registered
// under and frees its name. Envelopes still in its mailbox are discarded and
// counted as dropped, so registering again starts from an empty mailbox. An
// envelope the handler is already running finishes normally.
func (b *Broker) UnregisterListener(sub *Subscriber) {
	if sub == nil || sub.broker != b {
		return
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if !sub.attached.Load() && len(sub.destinations) == 0 {
		return
	}
	b.removeRoutesLocked(sub)
	if b.names[sub.name] == sub {
		delete(b.names, sub.name)
	}
	sub.attached.Store(false)
	discarded := sub.purgeMailbox()
	b.metrics.setSubscribers(len(b.names))
	b.metrics.forgetSubscriber(sub.name)

	b.logger.Info("Subscriber unregistered", loggingpkg.LogFields{
		"subscriber": sub.name,
		"discarded":  discarded,
	})
}

func (b *Broker) checkSubscriber(sub *Subscriber) error {
	if sub == nil {
		return errspkg.ErrSubscriberRequired
	}
	if sub.broker != b {
		return errspkg.ErrForeignSubscriber
	}
	if b.shutdown.Load() {
		return errspkg.ErrBrokerShutdown
	}
	return nil
}

// claimLocked reserves the subscriber name and attaches sub.
func (b *Broker) claimLocked(sub *Subscriber) error {
	if owner, ok := b.names[sub.name]; ok && owner != sub {
		return fmt.Errorf("%w: %q", errspkg.ErrSubscriberNameTaken, sub.name)
	}
	b.names[sub.name] = sub
	sub.ensureMailbox(b.conf.BoundedCapacity)
	sub.attached.Store(true)
	b.metrics.setSubscribers(len(b.names))
	return nil
}

func (b *Broker) addRoutesLocked(sub *Subscriber, ids ...DestinationID) {
	current := *b.routes.Load()
	next := make(routeTable, len(current)+len(ids))
	maps.Copy(next, current)

	for _, id := range ids {
		if _, ok := sub.destinations[id]; ok {
			continue
		}
		subs := next[id]
		grown := make([]*Subscriber, len(subs), len(subs)+1)
		copy(grown, subs)
		next[id] = append(grown, sub)
		sub.destinations[id] = struct{}{}
	}
	b.routes.Store(&next)
}

func (b *Broker) removeRoutesLocked(sub *Subscriber) {
	current := *b.routes.Load()
	next := make(routeTable, len(current))
	maps.Copy(next, current)

	for id := range sub.destinations {
		subs := next[id]
		kept := make([]*Subscriber, 0, len(subs))
		for _, s := range subs {
			if s != sub {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(next, id)
		} else {
			next[id] = kept
		}
	}
	clear(sub.destinations)
	b.routes.Store(&next)
}

// subscribersOf returns the current snapshot for id. Callers must not modify it.
func (b *Broker) subscribersOf(id DestinationID) []*Subscriber {
	if id == Drop {
		return nil
	}
	return (*b.routes.Load())[id]
}

// SubscriberInfo describes a registered subscriber.
type SubscriberInfo struct {
	Name         string        `json:"name"`
	Mode         string        `json:"mode"`
	Destinations []string      `json:"destinations"`
	Stats        StatsSnapshot `json:"stats"`
}

// Subscribers returns a description of every registered subscriber, sorted by name.
func (b *Broker) Subscribers() []SubscriberInfo {
	b.writeMu.Lock()
	subs := make([]*Subscriber, 0, len(b.names))
	for _, sub := range b.names {
		subs = append(subs, sub)
	}
	b.writeMu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].name < subs[j].name })

	infos := make([]SubscriberInfo, 0, len(subs))
	for _, sub := range subs {
		infos = append(infos, SubscriberInfo{
			Name:         sub.name,
			Mode:         sub.mode.String(),
			Destinations: sub.Destinations(),
			Stats:        sub.Stats(),
		})
	}
	return infos
}

// Shutdown rejects further sends, lets workers finish for the configured
// grace period, then cancels them and waits the force timeout. It returns
// ErrShutdownTimeout when workers are still running after both phases.
// Later calls return the result of the first.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.shutdown.Store(true)
		b.logger.Info("Shutting down broker", loggingpkg.LogFields{
			"grace_period":  b.conf.ShutdownGracePeriod.String(),
			"force_timeout": b.conf.ShutdownForceTimeout.String(),
		})

		poolErr := b.pool.shutdown(ctx, b.conf.ShutdownGracePeriod, b.conf.ShutdownForceTimeout)
		if poolErr != nil {
			b.logger.Error("Workers did not terminate", poolErr, loggingpkg.LogFields{
				"active_workers": b.metrics.activeWorkers.Load(),
			})
		}
		b.shutdownErr = errors.Join(poolErr, b.stopHTTPServers(ctx))
		b.logger.Info("Broker stopped", nil)
	})
	return b.shutdownErr
}
