package handoff

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("push failed: %v", err)
		}
	}
	if q.Len() != 100 {
		t.Fatalf("expected 100 items, got %d", q.Len())
	}

	for i := 0; i < 100; i++ {
		v, ok := q.Pop()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)

	go func() {
		v, _ := q.Pop()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(50 * time.Millisecond):
	}

	if err := q.Push("hello"); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("unexpected value %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestCloseDrainsThenCompletes(t *testing.T) {
	q := New[int]()
	_ = q.Push(1)
	_ = q.Push(2)
	q.Close()
	q.Close()

	if err := q.Push(3); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	for _, want := range []int{1, 2} {
		v, ok := q.Pop()
		if !ok || v != want {
			t.Fatalf("expected %d, got %d (ok=%v)", want, v, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected completion after drain")
	}
}

func TestCloseWakesBlockedConsumer(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, ok := q.Pop(); ok {
			t.Error("expected closed queue to report completion")
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer was not released by Close")
	}
}
