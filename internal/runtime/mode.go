package runtime

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

// Mode selects how the broker hands envelopes to a subscriber.
type Mode uint8

const (
	// DirectUnsynced calls the handler on the sending goroutine without locking.
	DirectUnsynced Mode = iota
	// DirectSynced calls the handler on the sending goroutine, one caller at a time.
	DirectSynced
	// QueuedUnbounded enqueues into an unbounded mailbox drained by a pool worker.
	QueuedUnbounded
	// QueuedBounded enqueues into a bounded mailbox. Senders block while it is full.
	QueuedBounded
)

var modeNames = [...]string{
	DirectUnsynced:  "direct_unsynced",
	DirectSynced:    "direct_synced",
	QueuedUnbounded: "queued_unbounded",
	QueuedBounded:   "queued_bounded",
}

func (m Mode) String() string {
	if m.IsValid() {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// IsValid reports whether m is one of the declared modes.
func (m Mode) IsValid() bool {
	return int(m) < len(modeNames)
}

// IsQueued reports whether deliveries go through a mailbox.
func (m Mode) IsQueued() bool {
	return m == QueuedUnbounded || m == QueuedBounded
}

// ParseMode accepts the names produced by Mode.String, case-insensitively.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errspkg.ErrInvalidMode, s)
}
