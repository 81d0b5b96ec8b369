package ids

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestCreateULIDSequentialOrdering(t *testing.T) {
	const total = 100
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		ids[i] = CreateULID()
	}

	for i := 0; i < total; i++ {
		if len(ids[i]) != 26 {
			t.Fatalf("expected ULID length 26, got %d", len(ids[i]))
		}
		if _, err := ulid.Parse(ids[i]); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
	}

	for i := 1; i < total; i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected ULIDs to be strictly increasing, %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestSubscriberNamesAreUnique(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				name := SubscriberName()
				if !strings.HasPrefix(name, "subscriber-") {
					t.Errorf("unexpected generated name %q", name)
				}
				mu.Lock()
				if _, ok := seen[name]; ok {
					t.Errorf("duplicate name generated: %s", name)
				}
				seen[name] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique names, got %d", goroutines*perGoroutine, len(seen))
	}
}

func TestSourceIncrementsWithinOneMillisecond(t *testing.T) {
	src := newSource()
	at := time.UnixMilli(1_700_000_000_000)

	prev := src.next(at)
	for i := 0; i < 50; i++ {
		id := src.next(at)
		if id.Time() != prev.Time() {
			t.Fatalf("expected timestamp %d, got %d", prev.Time(), id.Time())
		}
		if id.Compare(prev) <= 0 {
			t.Fatalf("expected %s to sort after %s", id, prev)
		}
		prev = id
	}
}
