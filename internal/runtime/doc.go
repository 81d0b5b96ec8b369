/*
Package runtime implements the relay broker: destination routing, delivery
modes, mailbox scheduling and the supporting metrics and introspection.

# Delivery

A Broker routes an Envelope to every Subscriber registered under the
envelope's destination. How a subscriber receives it depends on its Mode:

  - DirectUnsynced and DirectSynced run the handler on the sending goroutine.
    DirectSynced serializes concurrent senders on a per-subscriber mutex.
  - QueuedUnbounded and QueuedBounded put the envelope in the subscriber's
    mailbox. A pool worker drains it. A full bounded mailbox blocks the sender.

# Nested sends (dispatch.go, trampoline.go)

The context handed to a direct handler carries the pending-envelope queue of
the Send that is running it. A Send made with that context appends to the
queue and returns, and the outermost Send keeps draining until the queue is
empty. Handler chains of any depth therefore run in constant stack space and
in submission order.

# Scheduling (subscriber.go, pool.go)

Each queued subscriber has a running flag. The caller that flips it from idle
to active submits the single worker for that activation; the worker drains
the mailbox, waiting up to Config.DequeueTimeout for more, then releases the
flag and rechecks the mailbox once. A handler panic is recovered per envelope
and the envelope counts as consumed.

# Routing table (broker.go)

Destination to subscriber lists live in a copy-on-write map behind an atomic
pointer. Dispatch reads a snapshot without locking; registration and
unregistration build a new map under a mutex.

# Observability

  - metrics.go: Prometheus collectors under the relay_broker_ prefix
  - stats.go: per-subscriber latency, throughput and error breakdown
  - hooks.go: DeliveryHooks around every handler invocation
  - webui.go, http.go: /api/subscribers, /api/broker and /metrics
*/
package runtime
