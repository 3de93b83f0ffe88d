// Package swfallback implements the software fallback path: a CPU pixel
// buffer under a mutex, used whenever the HW path can't be initialized.
// It shares the same frame-delivery contract as the HW path (a "frame
// available" notification to the registrar) but never touches GL.
//
// Grounded on original_source/media_kit_video/linux/video_output.cc's SW
// render branch (MPV_RENDER_PARAM_SW_* / "rgb0" contract), scheduled
// through an IdleScheduler so the bridge core stays host-loop-agnostic.
package swfallback

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fosdem/gpuvideobridge/lib/compositor"
	"github.com/fosdem/gpuvideobridge/lib/decoder"
)

// MaxWidth and MaxHeight cap the software path's allocation regardless of
// what the decoder reports (spec.md §4.3 "aspect policy for software
// path... caps each dimension to a hard-coded maximum while preserving
// aspect ratio").
const (
	MaxWidth  = 1920
	MaxHeight = 1080
)

// Fallback is the SW-variant state: one buffer, one mutex, no GL.
type Fallback struct {
	log       *slog.Logger
	dec       decoder.Decoder
	registrar compositor.TextureRegistrar
	idle      compositor.IdleScheduler
	textureID int64

	destroyed atomic.Bool

	mu       sync.Mutex
	buffer   []byte
	fixedW   int32
	fixedH   int32
	currentW int32
	currentH int32
	hasFrame bool
}

// New allocates the MaxWidth*MaxHeight*4 pixel buffer up front, guarded
// by a mutex, sized once and reused for every frame regardless of the
// clamped output size.
func New(log *slog.Logger, dec decoder.Decoder, registrar compositor.TextureRegistrar, idle compositor.IdleScheduler, textureID int64) *Fallback {
	if log == nil {
		log = slog.Default()
	}
	return &Fallback{
		log:       log.With("module", "swfallback"),
		dec:       dec,
		registrar: registrar,
		idle:      idle,
		textureID: textureID,
		buffer:    make([]byte, MaxWidth*MaxHeight*4),
	}
}

// OnFrameAvailable is the decoder's update callback; it must never call
// into the host registrar directly (spec.md §4.6 step 1), so it only
// schedules an idle callback.
func (f *Fallback) OnFrameAvailable() {
	if f.destroyed.Load() {
		return
	}
	f.idle.PostIdle(f.renderIdle)
}

// SetDimensions updates the fixed output size (0 = follow the decoder).
func (f *Fallback) SetDimensions(w, h int32) {
	f.mu.Lock()
	f.fixedW, f.fixedH = w, h
	f.mu.Unlock()
}

// renderIdle runs on the host UI loop (spec.md §4.6 step 2 and step 3's
// idempotence check).
func (f *Fallback) renderIdle() {
	if f.destroyed.Load() {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed.Load() {
		return
	}

	w, h, ok := f.dimensionsLocked()
	if !ok {
		return
	}
	stride := 4 * w

	if err := f.dec.RenderSW(decoder.SWTarget{Buffer: f.buffer, Width: w, Height: h, Stride: stride}); err != nil {
		f.log.Warn("software render failed, frame dropped", "error", err)
		return
	}

	f.currentW, f.currentH = w, h
	f.hasFrame = true
	f.registrar.MarkFrameAvailable(f.textureID)
}

// dimensionsLocked resolves the current target size, querying the
// decoder if no fixed size is configured, and clamps to (MaxWidth,
// MaxHeight) preserving aspect ratio (spec.md §8 scenario 6).
func (f *Fallback) dimensionsLocked() (int32, int32, bool) {
	w, h := f.fixedW, f.fixedH
	if w == 0 || h == 0 {
		params, err := f.dec.VideoOutParams()
		if err != nil || params.DW <= 0 || params.DH <= 0 {
			return 0, 0, false
		}
		w, h = int32(params.DW), int32(params.DH)
		if params.Rotate == 90 || params.Rotate == 270 {
			w, h = h, w
		}
	}
	cw, ch := clampAspect(w, h, MaxWidth, MaxHeight)
	return cw, ch, true
}

// clampAspect caps (w, h) to (maxW, maxH) preserving aspect ratio: whichever
// dimension overflows its maximum by the larger ratio determines the
// scale factor applied to both (spec.md §8 scenario 6).
func clampAspect(w, h, maxW, maxH int32) (int32, int32) {
	wScale := float64(maxW) / float64(w)
	hScale := float64(maxH) / float64(h)
	scale := wScale
	if hScale < scale {
		scale = hScale
	}
	if scale >= 1.0 {
		return w, h
	}
	return int32(float64(w) * scale), int32(float64(h) * scale)
}

// Frame returns the last rendered frame's dimensions (1x1 before the first
// frame). Its Name is always 0: an SW VideoOutput has no GL texture to hand
// the compositor, and the pixels themselves are read through PixelBuffer.
func (f *Fallback) Frame() compositor.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasFrame {
		return compositor.Frame{Width: 1, Height: 1}
	}
	return compositor.Frame{Width: uint32(f.currentW), Height: uint32(f.currentH)}
}

// PixelBuffer exposes the raw rgb0 bytes for the region
// [0, width*height*4), for whatever uploads them into a GL texture on the
// host side. Must be called under the same external synchronization the
// caller uses around Frame(), since no lock is held across the return.
func (f *Fallback) PixelBuffer() (buf []byte, width, height, stride int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasFrame {
		return nil, 0, 0, 0
	}
	n := int(f.currentW) * int(f.currentH) * 4
	return f.buffer[:n], f.currentW, f.currentH, 4 * f.currentW
}

// Dispose is idempotent on the destroyed flag (spec.md §4.6 step 3).
func (f *Fallback) Dispose() {
	if !f.destroyed.CompareAndSwap(false, true) {
		return
	}
	f.mu.Lock()
	f.hasFrame = false
	f.mu.Unlock()
}
