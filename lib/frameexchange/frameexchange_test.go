package frameexchange

import (
	"testing"

	"github.com/fosdem/gpuvideobridge/lib/bufferpool"
)

// These tests exercise the pure sequence-number bookkeeping in
// selectWriteSlot/currentDisplaySlotOrNewest without ever touching GL or
// EGL: they construct a Pool, set each slot's seq directly with SetSeq
// (skipping Ensure and every other Pool method that calls into GL), and
// drive Exchange's internal atomics by hand.

func newTestExchange() *Exchange {
	pool := bufferpool.New(nil, 0, 0)
	return New(nil, 0, pool)
}

func TestSelectWriteSlotAvoidsDisplayedSlot(t *testing.T) {
	fx := newTestExchange()
	fx.pool.Slot(0).SetSeq(5)
	fx.pool.Slot(1).SetSeq(7)
	fx.pool.Slot(2).SetSeq(3)
	fx.displaySeq.Store(7) // slot 1 is currently on screen

	got := fx.selectWriteSlot()
	if got != fx.pool.Slot(2) {
		t.Fatalf("expected slot 2 (seq 3, the oldest non-displayed), got a different slot")
	}
}

func TestSelectWriteSlotNeverPicksDisplayedSlot(t *testing.T) {
	fx := newTestExchange()
	// Every slot but the displayed one ties at seq 0 (cold start).
	fx.pool.Slot(0).SetSeq(0)
	fx.pool.Slot(1).SetSeq(0)
	fx.pool.Slot(2).SetSeq(9)
	fx.displaySeq.Store(9)

	for i := 0; i < 100; i++ {
		got := fx.selectWriteSlot()
		if got == fx.pool.Slot(2) {
			t.Fatalf("selectWriteSlot returned the currently displayed slot")
		}
	}
}

func TestCurrentDisplaySlotOrNewestColdStart(t *testing.T) {
	fx := newTestExchange()
	fx.pool.Slot(0).SetSeq(0)
	fx.pool.Slot(1).SetSeq(4)
	fx.pool.Slot(2).SetSeq(2)
	// displaySeq is still 0 (nothing shown yet): tie-break to the largest
	// non-zero seq.
	got := fx.currentDisplaySlotOrNewest()
	if got != fx.pool.Slot(1) {
		t.Fatalf("expected slot 1 (largest seq on cold start), got a different slot")
	}
}

func TestCurrentDisplaySlotOrNewestFindsDisplayedSlot(t *testing.T) {
	fx := newTestExchange()
	fx.pool.Slot(0).SetSeq(11)
	fx.pool.Slot(1).SetSeq(12)
	fx.pool.Slot(2).SetSeq(13)
	fx.displaySeq.Store(12)

	got := fx.currentDisplaySlotOrNewest()
	if got != fx.pool.Slot(1) {
		t.Fatalf("expected slot 1 (carries display_seq), got a different slot")
	}
}

func TestResetEpochResetsCounters(t *testing.T) {
	fx := newTestExchange()
	fx.producerSeq.Store(42)
	fx.displaySeq.Store(10)
	fx.consumerSeq.Store(10)

	fx.ResetEpoch()

	if fx.producerSeq.Load() != 1 {
		t.Errorf("producerSeq = %d, want 1", fx.producerSeq.Load())
	}
	if fx.displaySeq.Load() != 0 {
		t.Errorf("displaySeq = %d, want 0", fx.displaySeq.Load())
	}
	if fx.consumerSeq.Load() != 0 {
		t.Errorf("consumerSeq = %d, want 0", fx.consumerSeq.Load())
	}
}
