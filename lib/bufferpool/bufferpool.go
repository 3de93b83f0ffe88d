// Package bufferpool owns the N-buffered FBO/texture/image pool that
// FrameExchange hands frames through (spec.md §3, §4.3). All slot
// creation, destruction and reallocation happens on the render thread
// under the producer GL context; only host-side texture binding
// (BindHostTexture) runs on the host UI thread, under the host context.
//
// Grounded on lib/rendering's texture/FBO setup conventions (RGBA8 color
// attachments, linear filtering, clamp-to-edge) generalized from a single
// render target to a pool of N, and on
// original_source/media_kit_video/linux/texture_gl.cc's
// fbo/texture/EGLImage triple per buffer.
package bufferpool

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"github.com/fosdem/gpuvideobridge/internal/eglcgo"
)

// SlotCount is spec.md §3's N=3: with three slots there is always a free
// slot for the producer even while one is displayed and one is "in
// flight" awaiting the consumer's next poll.
const SlotCount = 3

// Slot is one FBO/texture/image triple plus the fence and sequence number
// that FrameExchange coordinates over. Seq and the fence handle are
// accessed from both the producer and consumer without a lock (spec.md §9
// "shared mutable state... modeled as atomics"); FBO/Texture/Image are
// touched only on the render thread.
type Slot struct {
	FBO     uint32
	Texture uint32
	Image   eglcgo.Image

	fence atomic.Uintptr // eglcgo.Sync
	seq   atomic.Uint64

	hostTexture uint32 // host-thread only; cached binding of Image
}

// Seq returns the slot's published sequence number (0 = never rendered).
func (s *Slot) Seq() uint64 { return s.seq.Load() }

// SetSeq publishes a new sequence number for the slot. Called by
// FrameExchange under the producer's single-writer discipline, or by
// Ensure to zero a slot on reset.
func (s *Slot) SetSeq(v uint64) { s.seq.Store(v) }

// Fence returns the slot's current GPU fence, or eglcgo.NoSync.
func (s *Slot) Fence() eglcgo.Sync { return eglcgo.Sync(s.fence.Load()) }

// SetFence installs a new GPU fence handle for the slot (or eglcgo.NoSync
// to clear it).
func (s *Slot) SetFence(f eglcgo.Sync) { s.fence.Store(uintptr(f)) }

// Pool is the fixed array of SlotCount Slots described in spec.md §3.
type Pool struct {
	log  *slog.Logger
	disp eglcgo.Display
	ctx  eglcgo.Context // producer context; images are created relative to it

	slots [SlotCount]Slot

	width, height int32
	initialized   bool

	resizing atomic.Bool
	resizeMu sync.Mutex

	dummyOnce    sync.Once
	dummyTexture uint32
}

// New constructs an empty, uninitialized pool. disp/ctx must be the
// producer EGL display and context (see glcontext.GLContext); Ensure must
// be called (on the render thread, with the producer context current)
// before any slot is usable.
func New(log *slog.Logger, disp eglcgo.Display, ctx eglcgo.Context) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{log: log.With("module", "bufferpool"), disp: disp, ctx: ctx}
}

// Resizing reports whether a resize is in progress; the consumer checks
// this lock-free before touching any slot (spec.md §4.4 consumer step 1).
func (p *Pool) Resizing() bool { return p.resizing.Load() }

// Dimensions returns the pool's current common allocation size.
func (p *Pool) Dimensions() (width, height int32) { return p.width, p.height }

// Initialized reports whether every slot currently holds a valid FBO.
func (p *Pool) Initialized() bool { return p.initialized }

// Slot returns the i'th slot (0 <= i < SlotCount).
func (p *Pool) Slot(i int) *Slot { return &p.slots[i] }

// Ensure allocates or reallocates the pool at (w, h). Must be called only
// on the render thread. A no-op when already initialized at that size
// (spec.md §8 "Repeated ensure(w,h) with unchanged (w,h) is a no-op").
func (p *Pool) Ensure(w, h int32) error {
	if p.initialized && w == p.width && h == p.height {
		return nil
	}
	if w <= 0 || h <= 0 {
		return fmt.Errorf("bufferpool: invalid size %dx%d", w, h)
	}

	p.resizing.Store(true)
	p.resizeMu.Lock()
	defer func() {
		p.resizeMu.Unlock()
		p.resizing.Store(false)
	}()

	p.destroyLocked()
	p.initialized = false

	for i := range p.slots {
		s := &p.slots[i]

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
			return fmt.Errorf("bufferpool: slot %d framebuffer incomplete (0x%x)", i, status)
		}

		img, err := eglcgo.CreateImageFromTexture(p.disp, p.ctx, tex)
		if err != nil {
			// Not fatal to the slot: the slot is still writable by the
			// producer, it just can't be zero-copy shared with the host.
			// VideoOutput's caller decides whether that's acceptable; we
			// log and continue, leaving Image as NoImage.
			p.log.Warn("failed to create shareable image for slot", "slot", i, "error", err)
		}

		s.FBO = fbo
		s.Texture = tex
		s.Image = img
		s.hostTexture = 0
		s.seq.Store(0)
		s.SetFence(eglcgo.NoSync)
	}

	gl.Flush()

	p.width, p.height = w, h
	p.initialized = true
	return nil
}

// destroyLocked waits on and tears down every existing slot's fence,
// image, texture and FBO. Caller holds resizeMu.
func (p *Pool) destroyLocked() {
	for i := range p.slots {
		s := &p.slots[i]
		if f := s.Fence(); f != eglcgo.NoSync {
			eglcgo.ClientWaitSync(p.disp, f, true, eglcgo.FOREVER)
			eglcgo.DestroySync(p.disp, f)
			s.SetFence(eglcgo.NoSync)
		}
		if s.Image != eglcgo.NoImage {
			eglcgo.DestroyImage(p.disp, s.Image)
			s.Image = eglcgo.NoImage
		}
		if s.Texture != 0 {
			tex := s.Texture
			gl.DeleteTextures(1, &tex)
			s.Texture = 0
		}
		if s.FBO != 0 {
			fbo := s.FBO
			gl.DeleteFramebuffers(1, &fbo)
			s.FBO = 0
		}
		s.hostTexture = 0
	}
}

// DestroyAll tears the pool all the way down during shutdown. Must run on
// the render thread with the producer context current.
func (p *Pool) DestroyAll() {
	p.resizeMu.Lock()
	defer p.resizeMu.Unlock()
	p.destroyLocked()
	p.initialized = false
	p.width, p.height = 0, 0
}

// BindWrite binds slot's FBO as the current draw framebuffer and sets the
// GL viewport to the pool's current dimensions, ready for the decoder's
// render call.
func (p *Pool) BindWrite(s *Slot) {
	gl.BindFramebuffer(gl.FRAMEBUFFER, s.FBO)
	gl.Viewport(0, 0, p.width, p.height)
}

// Unbind restores the default framebuffer.
func (p *Pool) Unbind() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
}

// DummyTexture lazily creates and caches a 1x1 transparent GL texture in
// whichever context is current when first called (the host context, in
// practice) so the consumer always has a valid bindable name before the
// first real frame (spec.md §4.4 "cold start", supplemented feature 2).
func (p *Pool) DummyTexture() uint32 {
	p.dummyOnce.Do(func() {
		var tex uint32
		gl.GenTextures(1, &tex)
		gl.BindTexture(gl.TEXTURE_2D, tex)
		pixel := [4]byte{0, 0, 0, 0}
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA, 1, 1, 0, gl.RGBA, gl.UNSIGNED_BYTE, unsafe.Pointer(&pixel[0]))
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
		p.dummyTexture = tex
	})
	return p.dummyTexture
}

// BindHostTexture returns a host-context texture name bound against
// slot's shareable image, creating and caching one on first use (spec.md
// §4.4 consumer step 5). Must run on the host UI thread under the host GL
// context. The cache is invalidated implicitly: Ensure zeroes
// hostTexture for every slot it reallocates.
func (p *Pool) BindHostTexture(s *Slot) (uint32, error) {
	if s.hostTexture != 0 {
		return s.hostTexture, nil
	}
	if s.Image == eglcgo.NoImage {
		return 0, fmt.Errorf("bufferpool: slot has no shareable image")
	}

	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	if err := eglcgo.BindImageAsTexture2D(gl.TEXTURE_2D, s.Image); err != nil {
		gl.DeleteTextures(1, &tex)
		return 0, fmt.Errorf("bufferpool: bind image to texture: %w", err)
	}
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)

	s.hostTexture = tex
	return tex, nil
}
