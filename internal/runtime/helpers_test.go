package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/relay/internal/runtime/config"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
)

const (
	defaultEventuallyWait = 2 * time.Second
	defaultEventuallyTick = 10 * time.Millisecond
)

type loggedEntry struct {
	level  string
	msg    string
	fields loggingpkg.LogFields
	err    error
}

// recordingLogger is safe for use from workers; children share the sink.
type recordingLogger struct {
	sink   *logSink
	fields loggingpkg.LogFields
}

type logSink struct {
	mu      sync.Mutex
	entries []loggedEntry
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{sink: &logSink{}}
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{sink: l.sink, fields: merged}
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}

func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.sink.mu.Lock()
	l.sink.entries = append(l.sink.entries, loggedEntry{level: level, msg: msg, fields: merged, err: err})
	l.sink.mu.Unlock()
}

func (l *recordingLogger) Entries() []loggedEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	out := make([]loggedEntry, len(l.sink.entries))
	copy(out, l.sink.entries)
	return out
}

func (l *recordingLogger) Has(level, msg string) bool {
	for _, e := range l.Entries() {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		DequeueTimeout:       20 * time.Millisecond,
		ShutdownGracePeriod:  time.Second,
		ShutdownForceTimeout: time.Second,
	}
}

func newTestBroker(t *testing.T, conf *configpkg.Config, deps BrokerDependencies) (*Broker, *recordingLogger) {
	t.Helper()
	if conf == nil {
		conf = testConfig()
	}
	log := newRecordingLogger()
	b, err := TryNewBroker(conf, log, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = b.Shutdown(context.Background())
	})
	return b, log
}

func newTestSubscriber(t *testing.T, b *Broker, name string, mode Mode, fn HandlerFunc) *Subscriber {
	t.Helper()
	sub, err := NewSubscriber(b, name, mode, fn)
	require.NoError(t, err)
	require.NoError(t, sub.RegisterListener())
	return sub
}

// collector records payloads in arrival order.
type collector struct {
	mu       sync.Mutex
	payloads []any
}

func (c *collector) handle(_ context.Context, env Envelope) error {
	c.mu.Lock()
	c.payloads = append(c.payloads, env.Payload())
	c.mu.Unlock()
	return nil
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *collector) Payloads() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.payloads))
	copy(out, c.payloads)
	return out
}
