package renderthread

import "golang.org/x/sys/unix"

// currentThreadID returns the Linux kernel thread id of the calling
// goroutine. Only meaningful when the goroutine is locked to its OS thread
// via runtime.LockOSThread, which run() does before recording threadID.
func currentThreadID() uint64 {
	return uint64(unix.Gettid())
}
