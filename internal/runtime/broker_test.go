package runtime

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/relay/internal/runtime/config"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

func noop(context.Context, Envelope) error { return nil }

func TestTryNewBrokerValidation(t *testing.T) {
	_, err := TryNewBroker(nil, newRecordingLogger(), BrokerDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = TryNewBroker(&configpkg.Config{}, nil, BrokerDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = TryNewBroker(&configpkg.Config{BoundedCapacity: -1}, newRecordingLogger(), BrokerDependencies{})
	var cfgErr errspkg.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "bounded capacity")

	assert.Panics(t, func() {
		NewBroker(&configpkg.Config{MaxWorkers: -1}, newRecordingLogger(), BrokerDependencies{})
	})
}

func TestNewBrokerAppliesDefaults(t *testing.T) {
	b, log := newTestBroker(t, &configpkg.Config{}, BrokerDependencies{})

	assert.Equal(t, configpkg.DefaultBoundedCapacity, b.Config().BoundedCapacity)
	assert.Equal(t, configpkg.DefaultDequeueTimeout, b.Config().DequeueTimeout)
	assert.NotNil(t, b.Registry())
	assert.False(t, b.IsShutdown())
	assert.True(t, log.Has("info", "Creating broker"))
}

func TestNewSubscriberValidation(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})

	_, err := NewSubscriber(nil, "a", DirectSynced, HandlerFunc(noop))
	assert.ErrorIs(t, err, errspkg.ErrBrokerRequired)

	_, err = NewSubscriber(b, "a", DirectSynced, nil)
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	_, err = NewSubscriber(b, "a", Mode(42), HandlerFunc(noop))
	assert.ErrorIs(t, err, errspkg.ErrInvalidMode)

	_, err = NewSubscriber(b, "BROADCAST", DirectSynced, HandlerFunc(noop))
	assert.ErrorIs(t, err, errspkg.ErrReservedName)

	sub, err := NewSubscriber(b, "", QueuedUnbounded, HandlerFunc(noop))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sub.Name(), "subscriber-"))
	assert.Equal(t, QueuedUnbounded, sub.Mode())
	assert.Same(t, b, sub.Broker())
	assert.Equal(t, "Subscriber{name="+sub.Name()+" mode=queued_unbounded}", sub.String())
}

func TestRegisterListenerSubscribesNameAndBroadcast(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	sub := newTestSubscriber(t, b, "orders", DirectUnsynced, noop)

	assert.Equal(t, []string{"BROADCAST", "orders"}, sub.Destinations())
	assert.True(t, sub.IsRegistered())

	id, ok := b.Registry().Lookup("orders")
	require.True(t, ok)
	assert.Len(t, b.subscribersOf(id), 1)
	assert.Len(t, b.subscribersOf(Broadcast), 1)

	require.NoError(t, sub.RegisterListener())
	assert.Len(t, b.subscribersOf(id), 1, "registering twice must not duplicate")
	assert.Len(t, b.subscribersOf(Broadcast), 1)
}

func TestQueuedSubscriberGetsSingleMailbox(t *testing.T) {
	b, _ := newTestBroker(t, &configpkg.Config{BoundedCapacity: 16}, BrokerDependencies{})

	bounded := newTestSubscriber(t, b, "bounded", QueuedBounded, noop)
	unbounded := newTestSubscriber(t, b, "unbounded", QueuedUnbounded, noop)
	direct := newTestSubscriber(t, b, "direct", DirectSynced, noop)

	first := bounded.mailbox
	require.NotNil(t, first)
	assert.Equal(t, 16, first.Cap())
	assert.Equal(t, -1, unbounded.mailbox.Cap())
	assert.Nil(t, direct.mailbox)

	bounded.UnregisterListener()
	require.NoError(t, bounded.RegisterListener())
	assert.Same(t, first, bounded.mailbox)
}

func TestSubscriberNamesAreUnique(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	first := newTestSubscriber(t, b, "dup", DirectSynced, noop)

	second, err := NewSubscriber(b, "dup", DirectSynced, HandlerFunc(noop))
	require.NoError(t, err)
	assert.ErrorIs(t, second.RegisterListener(), errspkg.ErrSubscriberNameTaken)
	assert.ErrorIs(t, second.RegisterExtraType("other"), errspkg.ErrSubscriberNameTaken)

	first.UnregisterListener()
	assert.NoError(t, second.RegisterListener())
}

func TestRegisterRejectsForeignAndNil(t *testing.T) {
	b1, _ := newTestBroker(t, nil, BrokerDependencies{})
	b2, _ := newTestBroker(t, nil, BrokerDependencies{})

	sub, err := NewSubscriber(b1, "x", DirectSynced, HandlerFunc(noop))
	require.NoError(t, err)

	assert.ErrorIs(t, b2.RegisterListener(sub), errspkg.ErrForeignSubscriber)
	assert.ErrorIs(t, b2.RegisterExtraType(sub, "y"), errspkg.ErrForeignSubscriber)
	assert.ErrorIs(t, b1.RegisterListener(nil), errspkg.ErrSubscriberRequired)
	assert.NotPanics(t, func() {
		b2.UnregisterListener(sub)
		b1.UnregisterListener(nil)
	})
}

func TestRegisterExtraType(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	var got collector
	sub := newTestSubscriber(t, b, "auditor", DirectSynced, got.handle)

	require.NoError(t, sub.RegisterExtraType("orders"))
	require.NoError(t, sub.RegisterExtraType("orders"))
	assert.Equal(t, []string{"BROADCAST", "auditor", "orders"}, sub.Destinations())

	require.NoError(t, b.Send(context.Background(), b.EnvelopeTo("orders", "o-1")))
	assert.Equal(t, []any{"o-1"}, got.Payloads())

	assert.ErrorIs(t, sub.RegisterExtraType("DROP"), errspkg.ErrReservedDestination)
	assert.ErrorIs(t, sub.RegisterExtraType(""), errspkg.ErrDestinationNameRequired)
}

func TestUnregisterRemovesFromEveryDestination(t *testing.T) {
	for _, mode := range []Mode{DirectUnsynced, DirectSynced, QueuedUnbounded, QueuedBounded} {
		t.Run(mode.String(), func(t *testing.T) {
			b, _ := newTestBroker(t, nil, BrokerDependencies{})
			var got collector
			sub := newTestSubscriber(t, b, "target", mode, got.handle)
			require.NoError(t, sub.RegisterExtraType("extra"))

			ctx := context.Background()
			require.NoError(t, b.Send(ctx, b.EnvelopeTo("target", 1)))
			require.Eventually(t, func() bool { return got.Len() == 1 }, time.Second, 5*time.Millisecond)

			sub.UnregisterListener()
			assert.False(t, sub.IsRegistered())
			assert.Empty(t, sub.Destinations())

			require.NoError(t, b.Send(ctx, b.EnvelopeTo("target", 2)))
			require.NoError(t, b.Send(ctx, b.EnvelopeTo("extra", 3)))
			require.NoError(t, b.Send(ctx, NewEnvelope(Broadcast, 4)))

			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, []any{1}, got.Payloads())
			assert.Empty(t, b.Subscribers())

			sub.UnregisterListener()
		})
	}
}

func TestUnregisterDiscardsBacklogBeforeReregistering(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})

	entered := make(chan struct{})
	gate := make(chan struct{})
	var got collector
	sub := newTestSubscriber(t, b, "backlog", QueuedUnbounded, func(ctx context.Context, env Envelope) error {
		if env.Payload() == 0 {
			close(entered)
			<-gate
		}
		return got.handle(ctx, env)
	})

	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, b.Send(ctx, b.EnvelopeTo("backlog", i)))
	}
	<-entered

	sub.UnregisterListener()
	assert.Equal(t, 0, sub.Stats().Backlog.MailboxDepth)
	require.NoError(t, sub.RegisterListener())
	close(gate)

	require.Eventually(t, func() bool { return got.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return got.Len() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []any{0}, got.Payloads())

	stats := sub.Stats()
	assert.Equal(t, uint64(4), stats.Dropped)
	assert.Equal(t, uint64(4), b.Metrics().Dropped)

	require.NoError(t, b.Send(ctx, b.EnvelopeTo("backlog", 5)))
	require.Eventually(t, func() bool { return got.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{0, 5}, got.Payloads())
}

func TestBroadcastReachesEveryRegisteredSubscriber(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})

	modes := []Mode{DirectUnsynced, DirectSynced, QueuedUnbounded, QueuedBounded}
	collectors := make([]*collector, len(modes))
	for i, mode := range modes {
		collectors[i] = &collector{}
		newTestSubscriber(t, b, mode.String(), mode, collectors[i].handle)
	}

	var outsider atomic.Int32
	_, err := NewSubscriber(b, "never-registered", DirectSynced, HandlerFunc(func(context.Context, Envelope) error {
		outsider.Add(1)
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, b.Send(context.Background(), NewEnvelope(Broadcast, "hello")))

	for i, c := range collectors {
		require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond, modes[i].String())
		assert.Equal(t, []any{"hello"}, c.Payloads())
	}
	assert.Zero(t, outsider.Load())
}

func TestDropAndUnknownDestinationsReachNobody(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	var got collector
	newTestSubscriber(t, b, "a", DirectSynced, got.handle)

	env := b.EnvelopeTo("nobody-listens", "x")
	assert.Equal(t, Drop, env.Destination())
	_, ok := b.Registry().Lookup("nobody-listens")
	assert.False(t, ok, "unknown names must not be registered by default")

	require.NoError(t, b.Send(context.Background(), env))
	require.NoError(t, b.Send(context.Background(), NewEnvelope(Drop, "y")))
	require.NoError(t, b.Send(context.Background(), b.EnvelopeTo("DROP", "z")))
	assert.Zero(t, got.Len())
}

func TestAutoRegisterDestinations(t *testing.T) {
	conf := testConfig()
	conf.AutoRegisterDestinations = true
	b, _ := newTestBroker(t, conf, BrokerDependencies{})

	env := b.EnvelopeTo("later", "x")
	assert.NotEqual(t, Drop, env.Destination())

	var got collector
	sub := newTestSubscriber(t, b, "later", DirectSynced, got.handle)
	require.NoError(t, sub.SendMessage(context.Background(), env))
	assert.Equal(t, []any{"x"}, got.Payloads())
}

func TestSubscribersSnapshot(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	newTestSubscriber(t, b, "b-direct", DirectSynced, noop)
	newTestSubscriber(t, b, "a-queued", QueuedBounded, noop)

	require.NoError(t, b.Send(context.Background(), NewEnvelope(Broadcast, 1)))

	infos := b.Subscribers()
	require.Len(t, infos, 2)
	assert.Equal(t, "a-queued", infos[0].Name)
	assert.Equal(t, "queued_bounded", infos[0].Mode)
	assert.Equal(t, configpkg.DefaultBoundedCapacity, infos[0].Stats.Backlog.MailboxCapacity)
	assert.Equal(t, "b-direct", infos[1].Name)
	assert.Equal(t, uint64(1), infos[1].Stats.Delivered)
	assert.Equal(t, []string{"BROADCAST", "b-direct"}, infos[1].Destinations)
}

func TestShutdownRejectsSendsAndRegistrations(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	var got collector
	sub := newTestSubscriber(t, b, "a", QueuedUnbounded, got.handle)

	require.NoError(t, b.Shutdown(context.Background()))
	assert.True(t, b.IsShutdown())

	for range 10 {
		assert.ErrorIs(t, b.Send(context.Background(), NewEnvelope(Broadcast, 1)), errspkg.ErrBrokerShutdown)
	}
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, got.Len())
	assert.Equal(t, uint64(10), b.Metrics().Rejected)

	other, err := NewSubscriber(b, "b", DirectSynced, HandlerFunc(noop))
	require.NoError(t, err)
	assert.ErrorIs(t, other.RegisterListener(), errspkg.ErrBrokerShutdown)

	assert.NoError(t, b.Shutdown(context.Background()), "second shutdown returns the first result")
	sub.UnregisterListener()
}

func TestShutdownLetsWorkersFinishWithinGrace(t *testing.T) {
	b, _ := newTestBroker(t, nil, BrokerDependencies{})
	var done atomic.Int32
	newTestSubscriber(t, b, "slow", QueuedUnbounded, func(context.Context, Envelope) error {
		time.Sleep(20 * time.Millisecond)
		done.Add(1)
		return nil
	})

	for i := range 5 {
		require.NoError(t, b.Send(context.Background(), b.EnvelopeTo("slow", i)))
	}
	require.NoError(t, b.Shutdown(context.Background()))
	assert.Equal(t, int32(5), done.Load())
	assert.Zero(t, b.Metrics().ActiveWorkers)
}

func TestShutdownForceCancelsStuckWorker(t *testing.T) {
	conf := testConfig()
	conf.ShutdownGracePeriod = 30 * time.Millisecond
	b, log := newTestBroker(t, conf, BrokerDependencies{})

	started := make(chan struct{})
	var cancelled atomic.Bool
	newTestSubscriber(t, b, "stuck", QueuedUnbounded, func(ctx context.Context, _ Envelope) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, b.Send(context.Background(), b.EnvelopeTo("stuck", 1)))
	<-started

	require.NoError(t, b.Shutdown(context.Background()))
	assert.True(t, cancelled.Load())
	assert.False(t, log.Has("error", "Workers did not terminate"))
}

func TestShutdownReportsWorkersThatIgnoreCancellation(t *testing.T) {
	conf := testConfig()
	conf.ShutdownGracePeriod = 20 * time.Millisecond
	conf.ShutdownForceTimeout = 20 * time.Millisecond
	b, log := newTestBroker(t, conf, BrokerDependencies{})

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	newTestSubscriber(t, b, "deaf", QueuedUnbounded, func(context.Context, Envelope) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, b.Send(context.Background(), b.EnvelopeTo("deaf", 1)))
	<-started

	err := b.Shutdown(context.Background())
	assert.True(t, errors.Is(err, errspkg.ErrShutdownTimeout))
	assert.True(t, log.Has("error", "Workers did not terminate"))
}
