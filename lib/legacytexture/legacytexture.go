// Package legacytexture is the supplemented legacy single-buffer path
// (SPEC_FULL.md supplemented feature 4; spec.md §9 "Open question: the
// legacy single-buffer path"): one FBO/texture/image instead of
// bufferpool.SlotCount, with a bounded (~16ms) fence wait before
// overwriting the previous frame and a glFinish backstop when fence
// creation fails. VideoOutput may select this as an alternate HW backend;
// the triple-buffered bufferpool/frameexchange pair remains the default.
//
// Grounded on original_source/media_kit_video/linux/texture_gl.cc's
// pre-pool double-buffer-via-EGLSync code path.
package legacytexture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"github.com/fosdem/gpuvideobridge/internal/eglcgo"
	"github.com/fosdem/gpuvideobridge/lib/compositor"
	"github.com/fosdem/gpuvideobridge/lib/decoder"
	"github.com/fosdem/gpuvideobridge/lib/metrics"
)

// FenceWaitDeadline is the ~16ms bound spec.md §5 describes as "a
// property, not a bug": long enough to usually catch up with a 60fps
// consumer, short enough not to stall the render thread indefinitely.
const FenceWaitDeadline = 16 * time.Millisecond

// Output is the legacy single-buffer HW backend.
type Output struct {
	log     *slog.Logger
	disp    eglcgo.Display
	ctx     eglcgo.Context
	metrics metrics.OutputMetrics

	fbo     uint32
	texture uint32
	image   eglcgo.Image
	fence   atomic.Uintptr // eglcgo.Sync

	width, height int32
	ready         atomic.Bool

	hostTexture uint32

	dummyOnce    sync.Once
	dummyTexture uint32
}

// New wraps the producer display/context the legacy buffer's FBO and
// EGLImage are created against.
func New(log *slog.Logger, disp eglcgo.Display, ctx eglcgo.Context, m metrics.OutputMetrics) *Output {
	if log == nil {
		log = slog.Default()
	}
	return &Output{log: log.With("module", "legacytexture"), disp: disp, ctx: ctx, metrics: m}
}

func (o *Output) fenceHandle() eglcgo.Sync { return eglcgo.Sync(o.fence.Load()) }
func (o *Output) setFence(f eglcgo.Sync) { o.fence.Store(uintptr(f)) }

// ensure (re)allocates the single FBO/texture/image if the size changed.
// Unlike bufferpool.Pool.Ensure there is no resize-quiescence protocol to
// honor: there is only ever one buffer, so a consumer racing a resize
// simply sees the old or new image, never a torn one, by virtue of the
// fence wait in RenderFrame.
func (o *Output) ensure(w, h int32) error {
	if o.fbo != 0 && w == o.width && h == o.height {
		return nil
	}
	o.destroy()

	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, w, h, 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)

	var fbo uint32
	gl.GenFramebuffers(1, &fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex, 0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		gl.DeleteTextures(1, &tex)
		gl.DeleteFramebuffers(1, &fbo)
		return fmt.Errorf("legacytexture: framebuffer incomplete (0x%x)", status)
	}

	img, err := eglcgo.CreateImageFromTexture(o.disp, o.ctx, tex)
	if err != nil {
		o.log.Warn("failed to create shareable image", "error", err)
	}

	o.fbo, o.texture, o.image = fbo, tex, img
	o.hostTexture = 0
	o.width, o.height = w, h
	return nil
}

func (o *Output) destroy() {
	if f := o.fenceHandle(); f != eglcgo.NoSync {
		eglcgo.ClientWaitSync(o.disp, f, true, eglcgo.FOREVER)
		eglcgo.DestroySync(o.disp, f)
		o.setFence(eglcgo.NoSync)
	}
	if o.image != eglcgo.NoImage {
		eglcgo.DestroyImage(o.disp, o.image)
		o.image = eglcgo.NoImage
	}
	if o.texture != 0 {
		tex := o.texture
		gl.DeleteTextures(1, &tex)
		o.texture = 0
	}
	if o.fbo != 0 {
		fbo := o.fbo
		gl.DeleteFramebuffers(1, &fbo)
		o.fbo = 0
	}
	o.hostTexture = 0
}

// RenderFrame runs one legacy-path publish cycle: wait (bounded) on the
// previous frame's fence, render, flush, fence. Must run on the render
// thread with the producer context current.
func (o *Output) RenderFrame(dec decoder.Decoder, w, h int32) error {
	if err := o.ensure(w, h); err != nil {
		return err
	}

	if f := o.fenceHandle(); f != eglcgo.NoSync {
		_, timedOut := eglcgo.ClientWaitSync(o.disp, f, true, uint64(FenceWaitDeadline.Nanoseconds()))
		if timedOut {
			o.log.Warn("legacy texture fence wait exceeded deadline, proceeding anyway", "deadline", FenceWaitDeadline)
			o.metrics.FenceTimeouts.Inc()
		}
		eglcgo.DestroySync(o.disp, f)
		o.setFence(eglcgo.NoSync)
	}

	gl.BindFramebuffer(gl.FRAMEBUFFER, o.fbo)
	gl.Viewport(0, 0, o.width, o.height)
	err := dec.RenderIntoFBO(decoder.FBOTarget{FBO: o.fbo, Width: w, Height: h, FlipY: false})
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if err != nil {
		return fmt.Errorf("legacytexture: render failed: %w", err)
	}

	gl.Flush()

	fence, ferr := eglcgo.CreateFenceSync(o.disp)
	if ferr != nil {
		// spec.md §7: conservative backstop when fence creation fails.
		gl.Finish()
		fence = eglcgo.NoSync
	}
	o.setFence(fence)
	o.ready.Store(true)
	return nil
}

// DummyTexture lazily creates and caches a 1x1 transparent GL texture,
// mirroring bufferpool.Pool.DummyTexture, so the legacy backend has the
// same cold-start guarantee (spec.md §4.4 "cold start", supplemented
// feature 2) without depending on bufferpool.
func (o *Output) DummyTexture() uint32 {
	o.dummyOnce.Do(func() {
		var tex uint32
		gl.GenTextures(1, &tex)
		gl.BindTexture(gl.TEXTURE_2D, tex)
		pixel := [4]byte{0, 0, 0, 0}
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA, 1, 1, 0, gl.RGBA, gl.UNSIGNED_BYTE, unsafe.Pointer(&pixel[0]))
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
		o.dummyTexture = tex
	})
	return o.dummyTexture
}

// Frame returns the current host-bindable frame, or a 1x1 dummy if nothing
// has been rendered yet.
func (o *Output) Frame() compositor.Frame {
	if !o.ready.Load() || o.image == eglcgo.NoImage {
		return compositor.Frame{Target: gl.TEXTURE_2D, Name: o.DummyTexture(), Width: 1, Height: 1}
	}

	if o.hostTexture == 0 {
		var tex uint32
		gl.GenTextures(1, &tex)
		gl.BindTexture(gl.TEXTURE_2D, tex)
		if err := eglcgo.BindImageAsTexture2D(gl.TEXTURE_2D, o.image); err != nil {
			o.log.Warn("failed to bind legacy image to host texture", "error", err)
			gl.DeleteTextures(1, &tex)
			return compositor.Frame{Target: gl.TEXTURE_2D, Name: o.DummyTexture(), Width: 1, Height: 1}
		}
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
		o.hostTexture = tex
	}

	return compositor.Frame{Target: gl.TEXTURE_2D, Name: o.hostTexture, Width: uint32(o.width), Height: uint32(o.height)}
}

// DestroyAll tears down the buffer on shutdown. Must run on the render
// thread with the producer context current.
func (o *Output) DestroyAll() {
	o.destroy()
	o.ready.Store(false)
	o.width, o.height = 0, 0
}
