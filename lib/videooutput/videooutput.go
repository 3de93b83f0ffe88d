// Package videooutput implements VideoOutput, the orchestrator of
// spec.md §4.5: it owns the decoder render session, dispatches the
// decoder's "frame ready" callbacks onto the render thread (HW) or an
// idle callback (SW), routes dimension changes, and runs the
// CREATED→HW_TRYING→{HW_READY|SW_READY}→DESTROYED state machine.
//
// Grounded on original_source/media_kit_video/linux/video_output.cc's
// constructor/dispose ordering and dimension-query logic, expressed with
// atomic state flags. New returns no error: a failed HW init is recorded
// as the transition to SW_READY.
package videooutput

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fosdem/gpuvideobridge/lib/bufferpool"
	"github.com/fosdem/gpuvideobridge/lib/compositor"
	"github.com/fosdem/gpuvideobridge/lib/config"
	"github.com/fosdem/gpuvideobridge/lib/decoder"
	"github.com/fosdem/gpuvideobridge/lib/frameexchange"
	"github.com/fosdem/gpuvideobridge/lib/glcontext"
	"github.com/fosdem/gpuvideobridge/lib/legacytexture"
	"github.com/fosdem/gpuvideobridge/lib/metrics"
	"github.com/fosdem/gpuvideobridge/lib/renderthread"
	"github.com/fosdem/gpuvideobridge/lib/swfallback"
)

// State is one node of spec.md §4.5's state machine.
type State int32

const (
	StateCreated State = iota
	StateHWTrying
	StateHWReady
	StateSWReady
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateHWTrying:
		return "HW_TRYING"
	case StateHWReady:
		return "HW_READY"
	case StateSWReady:
		return "SW_READY"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// VideoOutput is the bridge's orchestrator: one instance per decoder
// texture, holding either a HW variant (render thread + producer context
// + pool + exchange) or a SW variant (lib/swfallback), per spec.md §9's
// "dynamic dispatch over HW/SW... modeled as a tagged variant".
type VideoOutput struct {
	log       *slog.Logger
	textureID int64
	registrar compositor.TextureRegistrar
	idle      compositor.IdleScheduler
	dimCB     compositor.DimensionsCallback
	dec       decoder.Decoder
	metrics   metrics.OutputMetrics

	state     atomic.Int32
	destroyed atomic.Bool

	dimMu         sync.Mutex
	fixedW        int32
	fixedH        int32
	lastReportedW int32
	lastReportedH int32

	// HW variant: either the default pooled path (pool+fx) or, when
	// cfg.UseLegacySingleBuffer is set, the legacy single-buffer backend
	// (legacy). Exactly one of {pool,fx} / legacy is non-nil whenever
	// thread is non-nil.
	thread    *renderthread.Thread
	gl        *glcontext.GLContext
	pool      *bufferpool.Pool
	fx        *frameexchange.Exchange
	legacy    *legacytexture.Output
	useLegacy bool

	// SW variant.
	sw *swfallback.Fallback
}

// New attempts HW init (if cfg requests it) and falls back to software on
// any failure, per spec.md §4.5 "new(...) -> VideoOutput". host is the
// host UI thread's current EGL state, snapshotted by the caller via
// glcontext.SnapshotHostState before calling New.
func New(log *slog.Logger, textureID int64, registrar compositor.TextureRegistrar, idle compositor.IdleScheduler, dimCB compositor.DimensionsCallback, dec decoder.Decoder, host glcontext.HostState, cfg *config.Config) *VideoOutput {
	if log == nil {
		log = slog.Default()
	}
	vo := &VideoOutput{
		log:       log.With("module", "videooutput"),
		textureID: textureID,
		registrar: registrar,
		idle:      idle,
		dimCB:     dimCB,
		dec:       dec,
		metrics:   metrics.New(fmt.Sprintf("texture-%d", textureID)),
		fixedW:    int32(cfg.Width),
		fixedH:    int32(cfg.Height),
	}
	vo.state.Store(int32(StateCreated))

	vo.useLegacy = cfg.UseLegacySingleBuffer

	if cfg.EnableHardwareAcceleration {
		vo.state.Store(int32(StateHWTrying))
		if err := vo.tryInitHW(host); err != nil {
			vo.log.Warn("hardware init failed, falling back to software rendering", "error", err)
			vo.initSW()
		} else {
			vo.state.Store(int32(StateHWReady))
			vo.metrics.SetMode("hw")
		}
	} else {
		vo.initSW()
	}

	vo.dec.SetUpdateCallback(vo.onFrameAvailable)

	// Supplemented feature 3: mount kick. If dimensions are still
	// "auto" (0), emit (1,1) once so the host widget tree mounts before
	// any real frame arrives.
	if vo.fixedW == 0 && vo.fixedH == 0 {
		vo.dimCB(vo.textureID, 1, 1)
		vo.lastReportedW, vo.lastReportedH = 1, 1
	}

	return vo
}

func (vo *VideoOutput) tryInitHW(host glcontext.HostState) error {
	vo.thread = renderthread.New(vo.log)

	var initErr error
	vo.thread.PostAndWait(func() {
		gctx, err := glcontext.New(vo.log, host)
		if err != nil {
			initErr = fmt.Errorf("glcontext: %w", err)
			return
		}

		restore, err := gctx.Activate()
		if err != nil {
			gctx.Destroy()
			initErr = fmt.Errorf("glcontext activate: %w", err)
			return
		}
		defer restore()

		if err := vo.dec.CreateRenderContext(gctx.GetProcAddress); err != nil {
			gctx.Destroy()
			initErr = fmt.Errorf("decoder render context: %w", err)
			return
		}

		vo.gl = gctx
		if vo.useLegacy {
			vo.legacy = legacytexture.New(vo.log, gctx.Display(), gctx.EGLContext(), vo.metrics)
		} else {
			pool := bufferpool.New(vo.log, gctx.Display(), gctx.EGLContext())
			vo.pool = pool
			vo.fx = frameexchange.New(vo.log, gctx.Display(), pool)
		}
	})
	if initErr != nil {
		vo.thread.Close()
		vo.thread = nil
		return initErr
	}
	return nil
}

func (vo *VideoOutput) initSW() {
	vo.state.Store(int32(StateSWReady))
	if err := vo.dec.CreateRenderContext(nil); err != nil {
		vo.log.Error("decoder software render context creation failed", "error", err)
	}
	vo.sw = swfallback.New(vo.log, vo.dec, vo.registrar, vo.idle, vo.textureID)
	vo.sw.SetDimensions(vo.fixedW, vo.fixedH)
	vo.metrics.SetMode("sw")
}

// onFrameAvailable is registered with the decoder (spec.md §4.5
// "on_frame_available"); it may be invoked from any decoder-owned thread
// at any time, including after Dispose has begun.
func (vo *VideoOutput) onFrameAvailable() {
	if vo.destroyed.Load() {
		return
	}
	switch State(vo.state.Load()) {
	case StateHWReady:
		vo.thread.Post(vo.renderHW)
	case StateSWReady:
		vo.sw.OnFrameAvailable()
	}
}

// currentDimensions resolves spec.md §4.5's dimension protocol: fixed
// size if configured, else the decoder's reported video-out-params with
// the rotation-aware swap (supplemented feature 1: only 90/270 swap, not
// 180).
func (vo *VideoOutput) currentDimensions() (int32, int32, bool) {
	vo.dimMu.Lock()
	fw, fh := vo.fixedW, vo.fixedH
	vo.dimMu.Unlock()
	if fw != 0 && fh != 0 {
		return fw, fh, true
	}

	params, err := vo.dec.VideoOutParams()
	if err != nil || params.DW <= 0 || params.DH <= 0 {
		return 0, 0, false
	}
	w, h := int32(params.DW), int32(params.DH)
	if params.Rotate == 90 || params.Rotate == 270 {
		w, h = h, w
	}
	return w, h, true
}

func (vo *VideoOutput) reportDimensionsIfChanged(w, h int32) {
	vo.dimMu.Lock()
	changed := w != vo.lastReportedW || h != vo.lastReportedH
	if changed {
		vo.lastReportedW, vo.lastReportedH = w, h
	}
	vo.dimMu.Unlock()
	if changed {
		vo.dimCB(vo.textureID, int64(w), int64(h))
	}
}

// renderHW runs on the render thread: the HW path's per-frame pipeline
// (spec.md §2 data flow step 2).
func (vo *VideoOutput) renderHW() {
	if vo.destroyed.Load() {
		return
	}

	w, h, ok := vo.currentDimensions()
	if !ok {
		return
	}

	restore, err := vo.gl.Activate()
	if err != nil {
		vo.log.Warn("make_current failed during render, dropping frame", "error", err)
		return
	}
	defer restore()

	if vo.useLegacy {
		vo.reportDimensionsIfChanged(w, h)
		if err := vo.legacy.RenderFrame(vo.dec, w, h); err != nil {
			vo.metrics.FramesDropped.Inc()
			vo.log.Warn("frame dropped", "error", err)
			return
		}
		vo.metrics.FramesProduced.Inc()
		vo.registrar.MarkFrameAvailable(vo.textureID)
		return
	}

	oldW, oldH := vo.pool.Dimensions()
	if err := vo.pool.Ensure(w, h); err != nil {
		vo.log.Error("failed to (re)allocate buffer pool", "error", err)
		return
	}
	if oldW != w || oldH != h {
		vo.fx.ResetEpoch()
		vo.metrics.Resizes.Inc()
	}
	vo.reportDimensionsIfChanged(w, h)

	err = vo.fx.Produce(func(s *bufferpool.Slot) error {
		return vo.dec.RenderIntoFBO(decoder.FBOTarget{FBO: s.FBO, Width: w, Height: h, FlipY: false})
	})
	if err != nil {
		vo.metrics.FramesDropped.Inc()
		vo.log.Warn("frame dropped", "error", err)
		return
	}

	vo.metrics.FramesProduced.Inc()
	vo.registrar.MarkFrameAvailable(vo.textureID)
}

// Frame is the polled texture callback the host compositor calls on its
// own thread (spec.md §6). Must never block on GPU work.
func (vo *VideoOutput) Frame() compositor.Frame {
	switch State(vo.state.Load()) {
	case StateHWReady:
		var frame compositor.Frame
		if vo.useLegacy {
			frame = vo.legacy.Frame()
		} else {
			frame = vo.fx.Poll()
		}
		vo.metrics.FramesDisplayed.Inc()
		return frame
	case StateSWReady:
		return vo.sw.Frame()
	default:
		return compositor.Frame{Target: 0x0DE1, Width: 1, Height: 1}
	}
}

// TextureID returns the opaque identifier the host uses to refer to this
// video texture.
func (vo *VideoOutput) TextureID() int64 { return vo.textureID }

// SetDimensions updates the fixed output size (0 means "follow the
// decoder"); takes effect on the next rendered frame.
func (vo *VideoOutput) SetDimensions(w, h int32) {
	vo.dimMu.Lock()
	vo.fixedW, vo.fixedH = w, h
	vo.dimMu.Unlock()
	if State(vo.state.Load()) == StateSWReady {
		vo.sw.SetDimensions(w, h)
	}
}

// State returns the orchestrator's current state.
func (vo *VideoOutput) State() State { return State(vo.state.Load()) }

// Dispose follows spec.md §4.5 / §9's ordering exactly: set destroyed,
// clear the decoder callback, tear down the render thread's GL state,
// then dispose the SW fallback. Tolerates a failed make-current at any step
// without leaking the render thread (supplemented feature 7).
func (vo *VideoOutput) Dispose() {
	if !vo.destroyed.CompareAndSwap(false, true) {
		return
	}

	vo.dec.SetUpdateCallback(nil)

	if vo.thread != nil {
		vo.thread.PostAndWait(func() {
			if vo.gl == nil {
				return
			}
			restore, err := vo.gl.Activate()
			if err != nil {
				vo.log.Warn("dispose: make_current failed, skipping GL teardown", "error", err)
				vo.gl.Destroy()
				return
			}
			if vo.useLegacy {
				if vo.legacy != nil {
					vo.legacy.DestroyAll()
				}
			} else if vo.pool != nil {
				vo.pool.DestroyAll()
			}
			vo.dec.Free()
			restore()
			vo.gl.Destroy()
		})
		vo.thread.Close()
	}

	if vo.sw != nil {
		vo.sw.Dispose()
		vo.dec.Free()
	}

	vo.state.Store(int32(StateDestroyed))
}
