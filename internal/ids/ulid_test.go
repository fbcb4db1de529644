package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewMessageIDSequentialOrdering(t *testing.T) {
	const total = 100
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		ids[i] = NewMessageID()
	}

	for i := 0; i < total; i++ {
		if _, err := ulid.Parse(ids[i]); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
	}

	for i := 1; i < total; i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected ids to be strictly increasing, %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestNewMessageIDConcurrentUniqueness(t *testing.T) {
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
				id := NewMessageID()
				mu.Lock()
				if _, ok := seen[id]; ok {
					t.Errorf("duplicate id generated: %s", id)
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique ids, got %d", goroutines*perGoroutine, len(seen))
	}
}

func TestMessageTime(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	id := NewMessageID()

	ts, err := MessageTime(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now()) {
		t.Fatalf("timestamp %v outside expected window", ts)
	}

	if _, err := MessageTime("not-a-ulid"); err == nil {
		t.Fatal("expected parse error")
	}
}
