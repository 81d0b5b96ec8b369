// Package relay is an embedded publish/subscribe broker for a single process.
//
// A Broker routes Envelopes to Subscribers by destination. Destinations are
// interned names with small numeric ids; two are reserved: DROP reaches nobody
// and BROADCAST reaches every registered subscriber. Registering a subscriber
// subscribes it to its own name and to BROADCAST; RegisterExtraType adds more.
//
// Each subscriber picks one of four delivery modes:
//   - DirectUnsynced: the handler runs on the sender's goroutine, concurrently
//     with other senders.
//   - DirectSynced: as above, but one invocation at a time.
//   - QueuedUnbounded: envelopes go to an unbounded mailbox that a pool worker
//     drains; the sender never blocks.
//   - QueuedBounded: as above with a 512-entry mailbox. Senders block while it
//     is full until space frees or the send is cancelled.
//
// Queued subscribers are scheduled on demand: a worker is started when the
// first envelope lands in an idle mailbox and returns to the pool once the
// mailbox is empty. Each subscriber has at most one worker at any time, so its
// handler never runs concurrently and sees envelopes in arrival order.
//
// Direct handlers may send from inside OnMessage. Such nested sends are queued
// on the context and dispatched breadth-first by the outermost Send, so
// arbitrarily deep chains of nested sends run in constant stack space. Pass
// the handler's context to Send to keep that guarantee.
//
// A minimal setup:
//
//	conf := relay.DefaultConfig()
//	broker, err := relay.TryNewBroker(&conf, relay.NewSlogServiceLogger(slog.Default()), relay.BrokerDependencies{})
//	sub, err := relay.NewSubscriber(broker, "greeter", relay.QueuedUnbounded, relay.HandlerFunc(
//		func(ctx context.Context, env relay.Envelope) error {
//			fmt.Println(env.Payload())
//			return nil
//		}))
//	err = sub.RegisterListener()
//	err = broker.Send(ctx, broker.EnvelopeTo("greeter", "hello"))
//	err = broker.Shutdown(ctx)
//
// # Observability
//
// Every broker owns Prometheus collectors (served on /metrics when
// MetricsEnabled is set), opens an OpenTelemetry span per delivery, keeps
// per-subscriber latency and throughput statistics, and can serve them as JSON
// on the introspection port. DeliveryHooks let callers observe every handler
// invocation; LoggingHooks, MetricsHooks and AlertingHooks cover the common
// cases.
//
// # Bridging
//
// The bridge package forwards envelopes to any Watermill publisher and
// ingests Watermill topics into a broker.
package relay
