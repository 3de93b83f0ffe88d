// Package glcontext creates and owns the producer EGL context: an isolated
// context on the render thread that shares GL objects (textures, sync
// objects, images) with the host compositor's context, per spec.md §4.2.
//
// Grounded on original_source/media_kit_video/linux/video_output.cc's
// VideoOutput constructor (EGL config/context discovery, surfaceless
// activation) generalized per spec.md's fallback chain, and on
// gioui.org/app/internal/egl's save/restore-host-state discipline.
package glcontext

import (
	"fmt"
	"log/slog"

	"github.com/fosdem/gpuvideobridge/internal/eglcgo"
)

// HostState is a snapshot of the compositor's current EGL state, taken on
// the host thread at init time (spec.md §4.2 step 1).
type HostState struct {
	Display eglcgo.Display
	Context eglcgo.Context
	Draw    eglcgo.Surface
	Read    eglcgo.Surface
}

// SnapshotHostState reads the calling thread's current EGL display,
// context and surfaces. Must be called on the host UI thread, before the
// producer context is created.
func SnapshotHostState() HostState {
	return HostState{
		Display: eglcgo.GetCurrentDisplay(),
		Context: eglcgo.GetCurrentContext(),
		Draw:    eglcgo.GetCurrentSurface(eglDraw),
		Read:    eglcgo.GetCurrentSurface(eglRead),
	}
}

const (
	eglDraw = 0x3059 // EGL_DRAW
	eglRead = 0x305A // EGL_READ
)

// GLContext is the producer's isolated, sharing EGL context. It owns
// context and (if created) a 1x1 pbuffer surface; it never owns the host's
// surfaces.
type GLContext struct {
	log *slog.Logger

	host HostState

	display     eglcgo.Display
	config      eglcgo.Config
	context     eglcgo.Context
	pbuffer     eglcgo.Surface
	surfaceless bool
}

// New runs the discovery protocol of spec.md §4.2 against host and
// returns an unavailable error if config selection, context creation, or
// first activation fails. The caller (VideoOutput) must then fall back
// to software rendering.
func New(log *slog.Logger, host HostState) (*GLContext, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("module", "glcontext")

	if host.Display == eglcgo.NoDisplay || host.Context == eglcgo.NoContext {
		return nil, fmt.Errorf("glcontext: host EGL display/context unavailable")
	}

	if !eglcgo.BindAPI(eglcgo.OPENGL_ES_API) {
		return nil, fmt.Errorf("glcontext: eglBindAPI(ES) failed (0x%x)", eglcgo.GetError())
	}

	cfg, surfaceless, err := chooseConfig(host)
	if err != nil {
		return nil, err
	}

	ctx, err := createSharedContext(host.Display, cfg, host.Context)
	if err != nil {
		return nil, err
	}

	g := &GLContext{
		log:         log,
		host:        host,
		display:     host.Display,
		config:      cfg,
		context:     ctx,
		surfaceless: surfaceless,
	}

	if !surfaceless {
		pbuf, ok := eglcgo.CreatePbufferSurface(host.Display, cfg, 1, 1)
		if !ok {
			eglcgo.DestroyContext(host.Display, ctx)
			return nil, fmt.Errorf("glcontext: failed to create 1x1 pbuffer surface (0x%x)", eglcgo.GetError())
		}
		g.pbuffer = pbuf
	}

	// First activation: proves the context is actually usable, and
	// restores host state immediately afterwards (spec.md §4.2, "every
	// activation must save/restore host state").
	restore, err := g.Activate()
	if err != nil {
		g.Destroy()
		return nil, fmt.Errorf("glcontext: first activation failed: %w", err)
	}
	restore()

	return g, nil
}

// chooseConfig implements spec.md §4.2 step 3: try the host's exact config
// id first, then WINDOW|PBUFFER configs at ES3, then ES2, then
// PBUFFER-only. Returns whether the chosen drawable strategy is
// surfaceless (preferred when the config doesn't require a surface) or
// needs a pbuffer.
func chooseConfig(host HostState) (eglcgo.Config, bool, error) {
	if id, ok := eglcgo.QueryContext(host.Display, host.Context, eglcgo.CONFIG_ID); ok {
		if cfg, ok := eglcgo.ChooseConfig(host.Display, []int32{eglcgo.CONFIG_ID, id, eglcgo.NONE}); ok {
			return cfg, true, nil
		}
	}

	attemptsSurfaceType := []int32{
		eglcgo.WINDOW_BIT | eglcgo.PBUFFER_BIT,
		eglcgo.PBUFFER_BIT,
	}
	attemptsRenderable := []int32{eglcgo.OPENGL_ES3_BIT, eglcgo.OPENGL_ES2_BIT}

	for _, surfaceType := range attemptsSurfaceType {
		for _, renderable := range attemptsRenderable {
			attribs := []int32{
				eglcgo.SURFACE_TYPE, surfaceType,
				eglcgo.RENDERABLE_TYPE, renderable,
				eglcgo.RED_SIZE, 8,
				eglcgo.GREEN_SIZE, 8,
				eglcgo.BLUE_SIZE, 8,
				eglcgo.NONE,
			}
			if cfg, ok := eglcgo.ChooseConfig(host.Display, attribs); ok {
				return cfg, surfaceType == eglcgo.PBUFFER_BIT, nil
			}
		}
	}

	return eglcgo.NoConfig, false, fmt.Errorf("glcontext: no matching EGL config found (0x%x)", eglcgo.GetError())
}

// createSharedContext creates the producer context with ES2 requested,
// retrying ES3 on failure, sharing objects with host.Context.
func createSharedContext(disp eglcgo.Display, cfg eglcgo.Config, share eglcgo.Context) (eglcgo.Context, error) {
	ctx := eglcgo.CreateContext(disp, cfg, share, []int32{eglcgo.CONTEXT_CLIENT_VERSION, 2, eglcgo.NONE})
	if ctx != eglcgo.NoContext {
		return ctx, nil
	}
	ctx = eglcgo.CreateContext(disp, cfg, share, []int32{eglcgo.CONTEXT_CLIENT_VERSION, 3, eglcgo.NONE})
	if ctx != eglcgo.NoContext {
		return ctx, nil
	}
	return eglcgo.NoContext, fmt.Errorf("glcontext: eglCreateContext failed (0x%x)", eglcgo.GetError())
}

// Activate saves the calling thread's current EGL state, makes the
// producer context current, and returns a restore func that must be
// called once the unit of work is done (spec.md §4.2, §9 "scoped
// acquisition"). Safe to call repeatedly from different threads, as long
// as each call's restore func runs on the same thread before another
// Activate on that thread.
func (g *GLContext) Activate() (restore func(), err error) {
	savedCtx := eglcgo.GetCurrentContext()
	savedDraw := eglcgo.GetCurrentSurface(eglDraw)
	savedRead := eglcgo.GetCurrentSurface(eglRead)

	if savedCtx == g.context {
		// Already current on this thread: restoring would be a no-op, so
		// skip the round-trip entirely (mirrors texture_gl.cc's
		// should_switch_context check).
		return func() {}, nil
	}

	drawSurf := g.pbuffer
	if g.surfaceless {
		drawSurf = eglcgo.NoSurface
	}

	if !eglcgo.MakeCurrent(g.display, drawSurf, drawSurf, g.context) {
		return nil, fmt.Errorf("glcontext: eglMakeCurrent(producer) failed (0x%x)", eglcgo.GetError())
	}

	return func() {
		if !eglcgo.MakeCurrent(g.display, savedDraw, savedRead, savedCtx) {
			g.log.Warn("failed to restore host EGL context", "error_code", eglcgo.GetError())
		}
	}, nil
}

// Display returns the shared EGL display, needed by BufferPool to create
// fences and images against the same display the producer context uses.
func (g *GLContext) Display() eglcgo.Display { return g.display }

// EGLContext returns the producer context handle, needed to create
// EGLImages that other (sharing) contexts can bind.
func (g *GLContext) EGLContext() eglcgo.Context { return g.context }

// GetProcAddress resolves a GL/GLES function pointer through EGL, for
// handing to the decoder's OpenGL init params.
func (g *GLContext) GetProcAddress(name string) uintptr {
	return uintptr(eglcgo.GetProcAddress(name))
}

// Destroy tears down the producer context and pbuffer (if any). Must run
// on the render thread, with no other thread activating g concurrently.
func (g *GLContext) Destroy() {
	if g.pbuffer != eglcgo.NoSurface {
		eglcgo.DestroySurface(g.display, g.pbuffer)
		g.pbuffer = eglcgo.NoSurface
	}
	if g.context != eglcgo.NoContext {
		eglcgo.DestroyContext(g.display, g.context)
		g.context = eglcgo.NoContext
	}
}
