package queue

import (
	"testing"
	"time"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int](0)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() ok = false, want true")
		}
		if got != want {
			t.Fatalf("Pop() = %d, want %d", got, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop() on empty queue returned ok = true")
	}
}

func TestReadySignalsOnPush(t *testing.T) {
	q := New[string](0)
	select {
	case <-q.Ready():
		t.Fatalf("Ready() fired before any Push")
	default:
	}

	q.Push("hello")

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatalf("Ready() did not fire after Push")
	}

	item, ok := q.Pop()
	if !ok || item != "hello" {
		t.Fatalf("Pop() = %q, %v, want %q, true", item, ok, "hello")
	}
}

func TestCloseDiscardsFuturePushes(t *testing.T) {
	q := New[int](0)
	q.Close()
	q.Push(42)
	if got := q.Len(); got != 0 {
		t.Fatalf("Len() after Push-after-Close = %d, want 0", got)
	}
}

func TestLenTracksQueueDepth(t *testing.T) {
	q := New[int](0)
	if q.Len() != 0 {
		t.Fatalf("Len() on new queue = %d, want 0", q.Len())
	}
	q.Push(1)
	q.Push(2)
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	q.Pop()
	if q.Len() != 1 {
		t.Fatalf("Len() after one Pop = %d, want 1", q.Len())
	}
}
