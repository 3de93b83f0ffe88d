package videooutput

import (
	"sync"
	"testing"

	"github.com/fosdem/gpuvideobridge/lib/compositor"
	"github.com/fosdem/gpuvideobridge/lib/config"
	"github.com/fosdem/gpuvideobridge/lib/decoder"
	"github.com/fosdem/gpuvideobridge/lib/glcontext"
)

// fakeDecoder is a minimal decoder.Decoder: no cgo, no GL, just enough
// state to drive VideoOutput's orchestration logic.
type fakeDecoder struct {
	mu       sync.Mutex
	params   decoder.VideoOutParams
	paramErr error
	cb       func()
	swCalls  int
}

func (d *fakeDecoder) CreateRenderContext(getProcAddress decoder.GetProcAddressFunc) error {
	return nil
}
func (d *fakeDecoder) SetUpdateCallback(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
}
func (d *fakeDecoder) RenderIntoFBO(target decoder.FBOTarget) error { return nil }
func (d *fakeDecoder) RenderSW(target decoder.SWTarget) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.swCalls++
	return nil
}
func (d *fakeDecoder) VideoOutParams() (decoder.VideoOutParams, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params, d.paramErr
}
func (d *fakeDecoder) Free() {}

type fakeRegistrar struct {
	mu        sync.Mutex
	available map[int64]int
}

func (r *fakeRegistrar) MarkFrameAvailable(textureID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.available == nil {
		r.available = make(map[int64]int)
	}
	r.available[textureID]++
}

type fakeIdle struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *fakeIdle) PostIdle(f func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, f)
	q.mu.Unlock()
}

func (q *fakeIdle) drain() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, f := range tasks {
		f()
	}
}

// newTestOutput always takes the software path: an empty glcontext.HostState
// makes glcontext.New fail immediately (no display/context), which is the
// real, documented failure mode New() handles by falling back to software,
// not a test-only shortcut.
func newTestOutput(t *testing.T, cfg *config.Config) (*VideoOutput, *fakeDecoder, *fakeRegistrar, *fakeIdle) {
	t.Helper()
	dec := &fakeDecoder{}
	reg := &fakeRegistrar{}
	idle := &fakeIdle{}
	dimCB := compositor.DimensionsCallback(func(id int64, w, h int64) {})
	vo := New(nil, 1, reg, idle, dimCB, dec, glcontext.HostState{}, cfg)
	return vo, dec, reg, idle
}

func TestNewFallsBackToSoftwareWhenHostStateUnavailable(t *testing.T) {
	cfg := config.Default()
	vo, _, _, _ := newTestOutput(t, cfg)
	if vo.State() != StateSWReady {
		t.Fatalf("state = %v, want StateSWReady", vo.State())
	}
	vo.Dispose()
}

func TestDisposeIsIdempotent(t *testing.T) {
	vo, _, _, _ := newTestOutput(t, config.Default())
	vo.Dispose()
	vo.Dispose() // must not panic or double-free
	if vo.State() != StateDestroyed {
		t.Fatalf("state = %v, want StateDestroyed", vo.State())
	}
}

func TestOnFrameAvailableRoutesToSoftwarePath(t *testing.T) {
	vo, dec, reg, idle := newTestOutput(t, config.Default())
	defer vo.Dispose()

	dec.mu.Lock()
	dec.params = decoder.VideoOutParams{DW: 640, DH: 480}
	dec.mu.Unlock()

	vo.onFrameAvailable()
	idle.drain()

	if dec.swCalls != 1 {
		t.Fatalf("RenderSW called %d times, want 1", dec.swCalls)
	}
	reg.mu.Lock()
	n := reg.available[1]
	reg.mu.Unlock()
	if n != 1 {
		t.Fatalf("MarkFrameAvailable called %d times, want 1", n)
	}
}

func TestCurrentDimensionsRotation(t *testing.T) {
	vo, dec, _, _ := newTestOutput(t, config.Default())
	defer vo.Dispose()

	cases := []struct {
		rotate   int64
		wantSwap bool
	}{
		{0, false},
		{90, true},
		{180, false},
		{270, true},
	}
	for _, c := range cases {
		dec.mu.Lock()
		dec.params = decoder.VideoOutParams{DW: 1920, DH: 1080, Rotate: c.rotate}
		dec.mu.Unlock()

		w, h, ok := vo.currentDimensions()
		if !ok {
			t.Fatalf("rotate=%d: currentDimensions returned ok=false", c.rotate)
		}
		swapped := w == 1080 && h == 1920
		if swapped != c.wantSwap {
			t.Fatalf("rotate=%d: got (%d,%d), wantSwap=%v", c.rotate, w, h, c.wantSwap)
		}
	}
}

func TestCurrentDimensionsPrefersFixedSize(t *testing.T) {
	cfg := config.Default()
	cfg.Width, cfg.Height = 320, 240
	vo, dec, _, _ := newTestOutput(t, cfg)
	defer vo.Dispose()

	dec.mu.Lock()
	dec.params = decoder.VideoOutParams{DW: 1920, DH: 1080}
	dec.mu.Unlock()

	w, h, ok := vo.currentDimensions()
	if !ok || w != 320 || h != 240 {
		t.Fatalf("currentDimensions() = (%d,%d,%v), want (320,240,true)", w, h, ok)
	}
}

func TestMountKickEmitsOnePixelDimensionsWhenAuto(t *testing.T) {
	dec := &fakeDecoder{}
	reg := &fakeRegistrar{}
	idle := &fakeIdle{}
	var calls []struct{ w, h int64 }
	dimCB := compositor.DimensionsCallback(func(id int64, w, h int64) {
		calls = append(calls, struct{ w, h int64 }{w, h})
	})
	vo := New(nil, 1, reg, idle, dimCB, dec, glcontext.HostState{}, config.Default())
	defer vo.Dispose()

	if len(calls) != 1 || calls[0].w != 1 || calls[0].h != 1 {
		t.Fatalf("mount kick calls = %v, want exactly one (1,1)", calls)
	}
}
