package queue

import (
	"testing"
	"time"
)

func TestPushTakeFIFO(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Take()
		if !ok || got != want {
			t.Fatalf("Take() = %v, %v; want %v, true", got, ok, want)
		}
	}
}

func TestTakeBlocksUntilPush(t *testing.T) {
	q := New[string]()
	resultCh := make(chan string, 1)
	go func() {
		v, ok := q.Take()
		if ok {
			resultCh <- v
		} else {
			resultCh <- "<end>"
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-resultCh:
		if v != "hello" {
			t.Fatalf("got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not return in time")
	}
}

func TestCloseWakesWaitingTakers(t *testing.T) {
	q := New[int]()
	done := make(chan struct{})
	go func() {
		_, ok := q.Take()
		if ok {
			t.Error("expected ok=false after close")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Take did not wake up on Close")
	}
}

func TestCloseDiscardsSubsequentPushes(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Push(42)

	_, ok := q.Take()
	if ok {
		t.Fatal("expected no value to be delivered after close")
	}
}

func TestBufferedValuesSurviveClose(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	v1, ok1 := q.Take()
	v2, ok2 := q.Take()
	_, ok3 := q.Take()

	if !ok1 || v1 != 1 {
		t.Fatalf("first take = %v, %v", v1, ok1)
	}
	if !ok2 || v2 != 2 {
		t.Fatalf("second take = %v, %v", v2, ok2)
	}
	if ok3 {
		t.Fatal("expected end after buffer drained")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Close()

	_, ok := q.Take()
	if ok {
		t.Fatal("expected end")
	}
}
