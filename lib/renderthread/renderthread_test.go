package renderthread

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPostRunsInOrder(t *testing.T) {
	th := New(nil)
	defer th.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		th.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

func TestPostAndWaitBlocksUntilDone(t *testing.T) {
	th := New(nil)
	defer th.Close()

	var ran atomic.Bool
	th.PostAndWait(func() { ran.Store(true) })
	if !ran.Load() {
		t.Fatal("PostAndWait returned before the task ran")
	}
}

func TestPostAndWaitReentrantFromRenderThread(t *testing.T) {
	th := New(nil)
	defer th.Close()

	done := make(chan struct{})
	th.Post(func() {
		// Calling PostAndWait from inside the render thread must run
		// inline rather than deadlock against its own queue.
		var inner atomic.Bool
		th.PostAndWait(func() { inner.Store(true) })
		if !inner.Load() {
			t.Error("nested PostAndWait did not run its task")
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested PostAndWait deadlocked")
	}
}

func TestIsCurrentThread(t *testing.T) {
	th := New(nil)
	defer th.Close()

	if th.IsCurrentThread() {
		t.Fatal("test goroutine incorrectly identified as the render thread")
	}

	var onThread atomic.Bool
	th.PostAndWait(func() { onThread.Store(th.IsCurrentThread()) })
	if !onThread.Load() {
		t.Fatal("IsCurrentThread was false when called from the render thread itself")
	}
}

func TestCloseDrainsPendingTasks(t *testing.T) {
	th := New(nil)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		th.Post(func() { n.Add(1) })
	}
	th.Close()

	if n.Load() != 10 {
		t.Fatalf("Close returned before all queued tasks ran: ran %d of 10", n.Load())
	}
	if th.IsRunning() {
		t.Fatal("thread reported running after Close")
	}
}

func TestPostAfterCloseIsRejected(t *testing.T) {
	th := New(nil)
	th.Close()

	if th.Post(func() { t.Fatal("task posted after Close must never run") }) {
		t.Fatal("Post returned true after Close")
	}
}
