// Package frameexchange implements the lock-free producer/consumer
// handoff of spec.md §4.4: slot selection on the producer (render) side,
// fence-gated slot selection on the consumer (host) side, and the
// display-slot protection invariant that ties them together.
//
// Grounded on original_source/media_kit_video/linux/texture_gl.cc's
// double-buffer-plus-EGLSync handoff, generalized from one buffer to
// bufferpool.SlotCount, and on the render/publish split already present
// in lib/mixer's output-side buffering.
package frameexchange

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	gl "github.com/go-gl/gl/v4.1-core/gl"

	"github.com/fosdem/gpuvideobridge/internal/eglcgo"
	"github.com/fosdem/gpuvideobridge/lib/bufferpool"
	"github.com/fosdem/gpuvideobridge/lib/compositor"
)

// Exchange coordinates a bufferpool.Pool between exactly one producer
// (the render thread) and one consumer (the host UI thread). All exported
// methods are safe to call concurrently from their respective single
// thread; Produce must only ever be called from the render thread and
// Poll only ever from the host thread.
type Exchange struct {
	log  *slog.Logger
	disp eglcgo.Display
	pool *bufferpool.Pool

	producerSeq atomic.Uint64 // next sequence to assign
	displaySeq  atomic.Uint64 // sequence the consumer is currently showing
	consumerSeq atomic.Uint64 // largest sequence the consumer has accepted

	// write_index from spec.md §3 is not carried as separate state: with
	// only SlotCount == 3 slots, selectWriteSlot's linear scan for
	// "smallest seq among non-displayed slots" is cheap enough to run
	// fresh every publish, so there is nothing to keep private state for.
}

// New wraps pool. disp is the EGL display slots' fences are created
// against.
func New(log *slog.Logger, disp eglcgo.Display, pool *bufferpool.Pool) *Exchange {
	if log == nil {
		log = slog.Default()
	}
	fx := &Exchange{log: log.With("module", "frameexchange"), disp: disp, pool: pool}
	fx.producerSeq.Store(1)
	return fx
}

// ResetEpoch zeroes displaySeq and consumerSeq and restarts producerSeq at
// 1, so the next published frame is sequence 1. Called by the render thread
// immediately after bufferpool.Pool.Ensure reallocates the pool (spec.md
// §4.3 step 5, §3 invariant 3 "epoch reset").
func (fx *Exchange) ResetEpoch() {
	fx.producerSeq.Store(1)
	fx.displaySeq.Store(0)
	fx.consumerSeq.Store(0)
}

// Produce runs one producer-side publish cycle (spec.md §4.4 producer
// steps 1-5): select a write slot, let render draw into its FBO, flush,
// fence, and publish a new sequence number. render receives the bound
// FBO's dimensions implicitly via pool.BindWrite/Unbind, which Produce
// calls around it. If render returns an error the frame is discarded and
// producerSeq is not advanced (spec.md §7 "Decoder rendering error").
func (fx *Exchange) Produce(render func(s *bufferpool.Slot) error) error {
	slot := fx.selectWriteSlot()

	if f := slot.Fence(); f != eglcgo.NoSync {
		eglcgo.DestroySync(fx.disp, f)
		slot.SetFence(eglcgo.NoSync)
	}

	fx.pool.BindWrite(slot)
	err := render(slot)
	fx.pool.Unbind()
	if err != nil {
		return fmt.Errorf("frameexchange: render into slot failed, frame dropped: %w", err)
	}

	gl.Flush()

	fence, ferr := eglcgo.CreateFenceSync(fx.disp)
	if ferr != nil {
		// Non-fatal per spec.md §7 "Fence creation failure": treat the
		// slot as always-ready. May surface one late/torn frame under
		// contention but never crashes.
		fx.log.Warn("fence creation failed, slot will be treated as always-ready", "error", ferr)
		fence = eglcgo.NoSync
	}
	slot.SetFence(fence)

	mySeq := fx.producerSeq.Add(1) - 1
	slot.SetSeq(mySeq)
	return nil
}

// selectWriteSlot implements spec.md §4.4 producer step 1: any slot whose
// seq != displaySeq, preferring the smallest seq (oldest frame). With
// SlotCount == 3 a valid slot always exists because at most one slot can
// carry displaySeq.
func (fx *Exchange) selectWriteSlot() *bufferpool.Slot {
	displaySeq := fx.displaySeq.Load() // acquire: synchronizes with the consumer's publish in Poll

	var best *bufferpool.Slot
	var bestSeq uint64
	for i := 0; i < bufferpool.SlotCount; i++ {
		s := fx.pool.Slot(i)
		seq := s.Seq()
		if seq == displaySeq && displaySeq != 0 {
			continue
		}
		if best == nil || seq < bestSeq {
			best = s
			bestSeq = seq
		}
	}
	if best == nil {
		// Unreachable with SlotCount >= 2 and the invariant that at most
		// one slot carries displaySeq, but fall back to slot 0 rather
		// than panic if it ever happens.
		fx.log.Error("no write slot available, all slots match display_seq", "display_seq", displaySeq)
		return fx.pool.Slot(0)
	}
	return best
}

// Poll runs one consumer-side poll cycle (spec.md §4.4 consumer steps
// 1-5). Never blocks. Returns the frame to hand to the host compositor:
// a real slot's host texture, or the pool's 1x1 dummy when resizing, when
// no slot has been published yet (every seq is 0), when the slot carrying
// display_seq is no longer found, or if host-texture binding fails. When
// no newer slot passes its fence check and nothing has been displayed yet
// in this epoch, the slot with the largest seq is shown even though its
// fence has not been seen to signal.
func (fx *Exchange) Poll() compositor.Frame {
	if fx.pool.Resizing() {
		return fx.dummyFrame()
	}

	consumerSeq := fx.consumerSeq.Load()

	var candidate *bufferpool.Slot
	var candidateSeq uint64
	for i := 0; i < bufferpool.SlotCount; i++ {
		s := fx.pool.Slot(i)
		seq := s.Seq()
		if seq <= consumerSeq {
			continue
		}
		if f := s.Fence(); f != eglcgo.NoSync {
			signaled, _ := eglcgo.ClientWaitSync(fx.disp, f, false, 0)
			if !signaled {
				continue // not ready this poll; not an error (spec.md §5)
			}
			eglcgo.DestroySync(fx.disp, f)
			s.SetFence(eglcgo.NoSync)
		}
		if candidate == nil || seq > candidateSeq {
			candidate = s
			candidateSeq = seq
		}
	}

	if candidate == nil {
		// No new, fence-satisfied frame this poll: keep showing whatever
		// is currently displayed, falling back to the largest non-zero
		// seq on a cold start tie-break.
		candidate = fx.currentDisplaySlotOrNewest()
		if candidate == nil {
			return fx.dummyFrame()
		}
	} else {
		fx.consumerSeq.Store(candidateSeq)
	}

	// Publish display_seq (release) before any sampling/return: this is
	// what protects the slot from the producer (spec.md §4.4 step 4).
	fx.displaySeq.Store(candidate.Seq())

	tex, err := fx.pool.BindHostTexture(candidate)
	if err != nil {
		fx.log.Warn("failed to bind host texture for display slot", "error", err)
		return fx.dummyFrame()
	}

	w, h := fx.pool.Dimensions()
	return compositor.Frame{Target: uint32(gl.TEXTURE_2D), Name: tex, Width: uint32(w), Height: uint32(h)}
}

// currentDisplaySlotOrNewest finds the slot carrying display_seq (the one
// currently shown), or on cold start (display_seq == 0) the slot with the
// largest non-zero seq, as spec.md §4.4 step 3's tie-break describes.
func (fx *Exchange) currentDisplaySlotOrNewest() *bufferpool.Slot {
	displaySeq := fx.displaySeq.Load()
	if displaySeq != 0 {
		for i := 0; i < bufferpool.SlotCount; i++ {
			if s := fx.pool.Slot(i); s.Seq() == displaySeq {
				return s
			}
		}
		return nil
	}
	var newest *bufferpool.Slot
	var newestSeq uint64
	for i := 0; i < bufferpool.SlotCount; i++ {
		s := fx.pool.Slot(i)
		if seq := s.Seq(); seq > newestSeq {
			newest = s
			newestSeq = seq
		}
	}
	return newest
}

func (fx *Exchange) dummyFrame() compositor.Frame {
	return compositor.Frame{Target: uint32(gl.TEXTURE_2D), Name: fx.pool.DummyTexture(), Width: 1, Height: 1}
}
