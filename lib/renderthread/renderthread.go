// Package renderthread provides a single dedicated OS thread with a FIFO
// task queue, used to own the producer GL context (see lib/glcontext) so
// that all GL object creation/destruction happens on one thread regardless
// of which goroutine triggers it.
//
// Grounded on original_source/media_kit_video/linux/gl_render_thread.{h,cc}.
package renderthread

import (
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Thread owns one OS thread and runs posted tasks strictly in FIFO order.
// It is safe to call Post, PostAndWait, IsCurrentThread and RequestShutdown
// from any goroutine.
type Thread struct {
	log *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []func()
	stop     bool
	running  bool
	threadID uint64

	started chan struct{}
	done    chan struct{}
}

// New spawns the worker thread and blocks until it has recorded its
// identity, so IsCurrentThread is usable immediately after New returns.
func New(log *slog.Logger) *Thread {
	if log == nil {
		log = slog.Default()
	}
	t := &Thread{log: log.With("module", "renderthread"), started: make(chan struct{}), done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	go t.run()
	<-t.started
	return t
}

// Post enqueues f for execution on the worker thread. Returns false if
// shutdown has begun; f is then never run.
func (t *Thread) Post(f func()) bool {
	t.mu.Lock()
	if t.stop {
		t.mu.Unlock()
		return false
	}
	t.tasks = append(t.tasks, f)
	t.mu.Unlock()
	t.cond.Signal()
	return true
}

// PostAndWait enqueues f and blocks until it has run. If called from the
// render thread itself it runs f inline instead of deadlocking against
// its own queue.
func (t *Thread) PostAndWait(f func()) bool {
	if t.IsCurrentThread() {
		f()
		return true
	}

	done := make(chan struct{})
	posted := t.Post(func() {
		f()
		close(done)
	})
	if !posted {
		return false
	}
	<-done
	return true
}

// IsCurrentThread reports whether the calling goroutine is (pinned to) the
// worker OS thread.
func (t *Thread) IsCurrentThread() bool {
	return currentThreadID() == t.loadThreadID()
}

func (t *Thread) loadThreadID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threadID
}

// RequestShutdown sets the stop flag and wakes the worker; it does not
// block. Call Join (or rely on process exit) to wait for drain.
func (t *Thread) RequestShutdown() {
	t.mu.Lock()
	t.stop = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Join blocks until the worker thread has drained its queue and exited.
// RequestShutdown must have been called first (directly, or via Close).
func (t *Thread) Join() {
	<-t.done
}

// Close requests shutdown and waits for the worker to drain and exit.
func (t *Thread) Close() {
	t.RequestShutdown()
	t.Join()
}

// IsRunning is a best-effort liveness check; the thread may be exiting by
// the time the caller observes the result.
func (t *Thread) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Thread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	elevatePriority(t.log)

	t.mu.Lock()
	t.threadID = currentThreadID()
	t.running = true
	t.mu.Unlock()
	close(t.started)

	for {
		t.mu.Lock()
		for len(t.tasks) == 0 && !t.stop {
			t.cond.Wait()
		}
		if t.stop && len(t.tasks) == 0 {
			t.running = false
			t.mu.Unlock()
			break
		}
		task := t.tasks[0]
		t.tasks = t.tasks[1:]
		t.mu.Unlock()

		task()
	}
	close(t.done)
}

// elevatePriority is best-effort: failure is logged, never fatal, matching
// gl_render_thread.cc's pthread_setschedparam call (which also ignores
// failure).
func elevatePriority(log *slog.Logger) {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -10); err != nil {
		log.Debug("could not elevate render thread priority", "error", err)
	}
}
