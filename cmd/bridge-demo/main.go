// Command bridge-demo is a minimal host compositor standing in for
// Flutter's Linux embedder (spec.md §1): a GLFW window owns the "host" GL
// context (created through EGL, so glcontext's shared-context discovery
// and the OES_EGL_image texture bind both apply unchanged), runs the
// idle-callback queue SoftwareFallback needs, and presents whatever
// VideoOutput.Frame() returns every frame.
//
// Grounded on cmd/fazantix-window/main.go's flag parsing, GLFW main-loop
// shape and draw-loop structure, retargeted from the mixer's
// multi-source/stage draw to a single bridged video texture.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/fosdem/gpuvideobridge/lib/compositor"
	"github.com/fosdem/gpuvideobridge/lib/config"
	"github.com/fosdem/gpuvideobridge/lib/debugapi"
	"github.com/fosdem/gpuvideobridge/lib/decoder/mpvdecoder"
	"github.com/fosdem/gpuvideobridge/lib/glcontext"
	"github.com/fosdem/gpuvideobridge/lib/metrics"
	"github.com/fosdem/gpuvideobridge/lib/videooutput"
)

func init() {
	// GLFW's event loop and GL context activation must stay pinned to the
	// thread that created the window (mirrors fazantix-window's
	// runtime.LockOSThread in main, hoisted to init since GLFW itself
	// requires it before glfw.Init on some platforms).
	runtime.LockOSThread()
}

// idleQueue is the demo's compositor.IdleScheduler: callbacks queue up and
// drain once per main-loop iteration, on the host thread, the same
// property a Flutter embedder's PostTask(kUITaskRunner) would give.
type idleQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *idleQueue) PostIdle(f func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, f)
	q.mu.Unlock()
}

func (q *idleQueue) drain() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, f := range tasks {
		f()
	}
}

// registrar is the demo's compositor.TextureRegistrar: it records which
// textures were marked available, standing in for Flutter's
// TextureRegistrar::MarkTextureFrameAvailable; the draw loop does not read
// it.
type registrar struct {
	available sync.Map // textureID -> struct{}
}

func (r *registrar) MarkFrameAvailable(textureID int64) {
	r.available.Store(textureID, struct{}{})
}

func main() {
	titlePtr := flag.String("title", "bridge-demo", "window title")
	widthPtr := flag.Uint("width", 1280, "window width")
	heightPtr := flag.Uint("height", 720, "window height")
	filePtr := flag.String("file", "", "media file or URL for mpv to load")
	legacyPtr := flag.Bool("legacy-buffer", false, "use the single-buffer legacy HW backend instead of the triple-buffered pool")
	hwPtr := flag.Bool("hw", true, "attempt hardware-accelerated zero-copy rendering")
	debugAddrPtr := flag.String("debug-addr", ":8787", "address for the debug HTTP/WS/metrics surface")
	flag.Parse()

	log := slog.Default().With("module", "bridge-demo")

	cfg := config.Default()
	cfg.EnableHardwareAcceleration = *hwPtr
	cfg.UseLegacySingleBuffer = *legacyPtr
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := glfw.Init(); err != nil {
		log.Error("glfw init failed", "error", err)
		os.Exit(1)
	}
	defer glfw.Terminate()

	// EGLContextAPI, not the platform-native GLX/WGL path: glcontext's
	// SnapshotHostState reads EGL state directly, and the producer context
	// it creates must share with whatever API created this window.
	glfw.WindowHint(glfw.ContextCreationAPI, glfw.EGLContextAPI)
	glfw.WindowHint(glfw.ClientAPI, glfw.OpenGLAPI)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	window, err := glfw.CreateWindow(int(*widthPtr), int(*heightPtr), *titlePtr, nil, nil)
	if err != nil {
		log.Error("failed to create window", "error", err)
		os.Exit(1)
	}
	window.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		log.Error("gl init failed", "error", err)
		os.Exit(1)
	}

	host := glcontext.SnapshotHostState()

	mpv, err := newMPVHandle()
	if err != nil {
		log.Error("mpv init failed", "error", err)
		os.Exit(1)
	}
	defer mpv.Destroy()
	if *filePtr != "" {
		if err := mpv.LoadFile(*filePtr); err != nil {
			log.Warn("loadfile failed", "file", *filePtr, "error", err)
		}
	}
	dec := mpvdecoder.New(mpv.Pointer())

	idle := &idleQueue{}
	reg := &registrar{}

	const textureID int64 = 1
	dimCB := compositor.DimensionsCallback(func(id int64, w, h int64) {
		log.Info("dimensions changed", "texture", id, "width", w, "height", h)
	})

	vo := videooutput.New(log, textureID, reg, idle, dimCB, dec, host, cfg)
	defer vo.Dispose()

	debugSrv := debugapi.New(log, func() []debugapi.Snapshot {
		return []debugapi.Snapshot{{Name: fmt.Sprintf("texture-%d", textureID), Mode: vo.State().String()}}
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", debugSrv.Handler())
	go func() {
		if err := http.ListenAndServe(*debugAddrPtr, mux); err != nil {
			log.Warn("debug server stopped", "error", err)
		}
	}()

	quad := newQuadRenderer()
	defer quad.destroy()

	for !window.ShouldClose() {
		glfw.PollEvents()
		idle.drain()

		// The demo polls every frame regardless of MarkFrameAvailable, the
		// same way a compositor's own vsync-driven texture callback would;
		// registrar only needs to exist to satisfy compositor.TextureRegistrar.
		frame := vo.Frame()

		w, h := window.GetFramebufferSize()
		gl.Viewport(0, 0, int32(w), int32(h))
		gl.ClearColor(0, 0, 0, 1)
		gl.Clear(gl.COLOR_BUFFER_BIT)
		quad.draw(frame, w, h)

		window.SwapBuffers()
	}
}
