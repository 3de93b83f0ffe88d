// Package eglcgo wraps the subset of EGL 1.4+ (plus KHR_image_base,
// KHR_gl_texture_2D_image and KHR_fence_sync) that the producer GLContext
// needs to create a context sharing objects with the host compositor's
// current context, and to hand textures across contexts without copying
// pixels.
//
// The binding style follows gioui.org/app's EGL files (egl_wayland.go,
// egl_android.go): a thin cgo shim over libEGL, no vendored headers beyond
// the system ones.
package eglcgo

/*
#cgo linux LDFLAGS: -lEGL -lGLESv2
#include <EGL/egl.h>
#include <EGL/eglext.h>
#include <stdlib.h>

// KHR_fence_sync predates EGL 1.5's core eglCreateSync and uses a *KHR
// suffixed entry point that must be resolved dynamically on most drivers.
typedef EGLSyncKHR (*PFNEGLCREATESYNCKHRPROC_)(EGLDisplay, EGLenum, const EGLint*);
typedef EGLBoolean (*PFNEGLDESTROYSYNCKHRPROC_)(EGLDisplay, EGLSyncKHR);
typedef EGLint (*PFNEGLCLIENTWAITSYNCKHRPROC_)(EGLDisplay, EGLSyncKHR, EGLint, EGLTimeKHR);
typedef EGLImageKHR (*PFNEGLCREATEIMAGEKHRPROC_)(EGLDisplay, EGLContext, EGLenum, EGLClientBuffer, const EGLint*);
typedef EGLBoolean (*PFNEGLDESTROYIMAGEKHRPROC_)(EGLDisplay, EGLImageKHR);

static EGLSyncKHR eglcgo_CreateSyncKHR(PFNEGLCREATESYNCKHRPROC_ fn, EGLDisplay dpy, EGLenum type, const EGLint* attribs) {
	return fn(dpy, type, attribs);
}
static EGLBoolean eglcgo_DestroySyncKHR(PFNEGLDESTROYSYNCKHRPROC_ fn, EGLDisplay dpy, EGLSyncKHR sync) {
	return fn(dpy, sync);
}
static EGLint eglcgo_ClientWaitSyncKHR(PFNEGLCLIENTWAITSYNCKHRPROC_ fn, EGLDisplay dpy, EGLSyncKHR sync, EGLint flags, EGLTimeKHR timeout) {
	return fn(dpy, sync, flags, timeout);
}
static EGLImageKHR eglcgo_CreateImageKHR(PFNEGLCREATEIMAGEKHRPROC_ fn, EGLDisplay dpy, EGLContext ctx, EGLenum target, EGLClientBuffer buf, const EGLint* attribs) {
	return fn(dpy, ctx, target, buf, attribs);
}
static EGLBoolean eglcgo_DestroyImageKHR(PFNEGLDESTROYIMAGEKHRPROC_ fn, EGLDisplay dpy, EGLImageKHR img) {
	return fn(dpy, img);
}

// OES_EGL_image: glEGLImageTargetTexture2DOES is a GL/GLES entry point, not
// an EGL one, but it is the other half of the zero-copy handoff this
// package exists for, so it lives here rather than forcing bufferpool to
// carry its own cgo preamble. Declared with plain C types (not GLenum /
// GLeglImageOES) so this file does not need to pull in a GLES header.
typedef void (*PFNGLEGLIMAGETARGETTEXTURE2DOESPROC_)(unsigned int target, void* image);
static void eglcgo_ImageTargetTexture2DOES(PFNGLEGLIMAGETARGETTEXTURE2DOESPROC_ fn, unsigned int target, void* image) {
	fn(target, image);
}
*/
import "C"
import (
	"fmt"
	"unsafe"
)

type (
	Display uintptr
	Context uintptr
	Surface uintptr
	Config  uintptr
	Sync    uintptr
	Image   uintptr
)

const (
	NoDisplay Display = 0
	NoContext Context = 0
	NoSurface Surface = 0
	NoConfig  Config  = 0
	NoSync    Sync    = 0
	NoImage   Image   = 0
)

// Attribute / enum values needed by GLContext and BufferPool. Mirrors the
// subset video_output.cc and texture_gl.cc reference.
const (
	ALPHA_SIZE              = C.EGL_ALPHA_SIZE
	BLUE_SIZE               = C.EGL_BLUE_SIZE
	GREEN_SIZE              = C.EGL_GREEN_SIZE
	RED_SIZE                = C.EGL_RED_SIZE
	CONFIG_ID               = C.EGL_CONFIG_ID
	SURFACE_TYPE            = C.EGL_SURFACE_TYPE
	RENDERABLE_TYPE         = C.EGL_RENDERABLE_TYPE
	WINDOW_BIT              = C.EGL_WINDOW_BIT
	PBUFFER_BIT             = C.EGL_PBUFFER_BIT
	OPENGL_ES2_BIT          = C.EGL_OPENGL_ES2_BIT
	OPENGL_ES3_BIT          = 0x40
	WIDTH                   = C.EGL_WIDTH
	HEIGHT                  = C.EGL_HEIGHT
	CONTEXT_CLIENT_VERSION  = C.EGL_CONTEXT_CLIENT_VERSION
	NONE                    = C.EGL_NONE
	SYNC_FENCE_KHR          = 0x30F9
	SYNC_FLUSH_COMMANDS_BIT = 0x0001
	FOREVER                 = ^uint64(0) // EGL_FOREVER_KHR
	TIMEOUT_EXPIRED_KHR     = 0x30F5
	CONDITION_SATISFIED_KHR = 0x30F6
	GL_TEXTURE_2D_KHR       = 0x30B1
	IMAGE_PRESERVED_KHR     = 0x30D2
)

func GetCurrentDisplay() Display { return Display(C.eglGetCurrentDisplay()) }
func GetCurrentContext() Context { return Context(C.eglGetCurrentContext()) }

func GetCurrentSurface(readdraw int32) Surface {
	return Surface(C.eglGetCurrentSurface(C.EGLint(readdraw)))
}

func GetError() int32 { return int32(C.eglGetError()) }

func BindAPI(api uint32) bool {
	return C.eglBindAPI(C.EGLenum(api)) == C.EGL_TRUE
}

const (
	OPENGL_ES_API = C.EGL_OPENGL_ES_API
)

func QueryContext(disp Display, ctx Context, attr int32) (int32, bool) {
	var v C.EGLint
	ok := C.eglQueryContext(C.EGLDisplay(unsafe.Pointer(uintptr(disp))), C.EGLContext(unsafe.Pointer(uintptr(ctx))), C.EGLint(attr), &v)
	return int32(v), ok == C.EGL_TRUE
}

// ChooseConfig returns at most one config matching attribs (terminated by NONE).
func ChooseConfig(disp Display, attribs []int32) (Config, bool) {
	cattrs := toEGLInts(attribs)
	var cfg C.EGLConfig
	var n C.EGLint
	ok := C.eglChooseConfig(
		C.EGLDisplay(unsafe.Pointer(uintptr(disp))),
		(*C.EGLint)(unsafe.Pointer(&cattrs[0])),
		&cfg, 1, &n,
	)
	if ok != C.EGL_TRUE || n == 0 {
		return NoConfig, false
	}
	return Config(uintptr(unsafe.Pointer(cfg))), true
}

func CreateContext(disp Display, cfg Config, share Context, attribs []int32) Context {
	cattrs := toEGLInts(attribs)
	ctx := C.eglCreateContext(
		C.EGLDisplay(unsafe.Pointer(uintptr(disp))),
		C.EGLConfig(unsafe.Pointer(uintptr(cfg))),
		C.EGLContext(unsafe.Pointer(uintptr(share))),
		(*C.EGLint)(unsafe.Pointer(&cattrs[0])),
	)
	return Context(uintptr(unsafe.Pointer(ctx)))
}

func DestroyContext(disp Display, ctx Context) {
	C.eglDestroyContext(C.EGLDisplay(unsafe.Pointer(uintptr(disp))), C.EGLContext(unsafe.Pointer(uintptr(ctx))))
}

func CreatePbufferSurface(disp Display, cfg Config, width, height int) (Surface, bool) {
	attribs := []int32{WIDTH, int32(width), HEIGHT, int32(height), NONE}
	cattrs := toEGLInts(attribs)
	surf := C.eglCreatePbufferSurface(
		C.EGLDisplay(unsafe.Pointer(uintptr(disp))),
		C.EGLConfig(unsafe.Pointer(uintptr(cfg))),
		(*C.EGLint)(unsafe.Pointer(&cattrs[0])),
	)
	if unsafe.Pointer(surf) == C.EGL_NO_SURFACE {
		return NoSurface, false
	}
	return Surface(uintptr(unsafe.Pointer(surf))), true
}

func DestroySurface(disp Display, surf Surface) {
	C.eglDestroySurface(C.EGLDisplay(unsafe.Pointer(uintptr(disp))), C.EGLSurface(unsafe.Pointer(uintptr(surf))))
}

func MakeCurrent(disp Display, draw, read Surface, ctx Context) bool {
	return C.eglMakeCurrent(
		C.EGLDisplay(unsafe.Pointer(uintptr(disp))),
		C.EGLSurface(unsafe.Pointer(uintptr(draw))),
		C.EGLSurface(unsafe.Pointer(uintptr(read))),
		C.EGLContext(unsafe.Pointer(uintptr(ctx))),
	) == C.EGL_TRUE
}

func GetProcAddress(name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return unsafe.Pointer(C.eglGetProcAddress(cname))
}

func toEGLInts(attribs []int32) []C.EGLint {
	out := make([]C.EGLint, len(attribs))
	for i, a := range attribs {
		out[i] = C.EGLint(a)
	}
	if len(out) == 0 {
		out = append(out, C.EGLint(NONE))
	}
	return out
}

// The KHR_fence_sync and KHR_image_base *KHR entry points are resolved
// lazily via eglGetProcAddress on the first CreateFenceSync or
// CreateImageFromTexture call, the same way extension functions are always
// fetched on EGL/GLES (there is no static link target for them);
// ClientWaitSync, DestroySync and DestroyImage use whatever was resolved.

var (
	fnCreateSyncKHR     C.PFNEGLCREATESYNCKHRPROC_
	fnDestroySyncKHR    C.PFNEGLDESTROYSYNCKHRPROC_
	fnClientWaitSyncKHR C.PFNEGLCLIENTWAITSYNCKHRPROC_
	fnCreateImageKHR    C.PFNEGLCREATEIMAGEKHRPROC_
	fnDestroyImageKHR   C.PFNEGLDESTROYIMAGEKHRPROC_
)

func resolveKHRFunctions() error {
	if fnCreateSyncKHR == nil {
		fnCreateSyncKHR = C.PFNEGLCREATESYNCKHRPROC_(GetProcAddress("eglCreateSyncKHR"))
		fnDestroySyncKHR = C.PFNEGLDESTROYSYNCKHRPROC_(GetProcAddress("eglDestroySyncKHR"))
		fnClientWaitSyncKHR = C.PFNEGLCLIENTWAITSYNCKHRPROC_(GetProcAddress("eglClientWaitSyncKHR"))
		fnCreateImageKHR = C.PFNEGLCREATEIMAGEKHRPROC_(GetProcAddress("eglCreateImageKHR"))
		fnDestroyImageKHR = C.PFNEGLDESTROYIMAGEKHRPROC_(GetProcAddress("eglDestroyImageKHR"))
	}
	if fnCreateSyncKHR == nil || fnClientWaitSyncKHR == nil {
		return fmt.Errorf("eglcgo: KHR_fence_sync entry points not available")
	}
	return nil
}

// CreateFenceSync creates an EGL_SYNC_FENCE_KHR object on disp. Per spec
// §4.4/§9, callers must glFlush before calling this so the fence only
// signals once prior GPU commands complete.
func CreateFenceSync(disp Display) (Sync, error) {
	if err := resolveKHRFunctions(); err != nil {
		return NoSync, err
	}
	s := C.eglcgo_CreateSyncKHR(fnCreateSyncKHR, C.EGLDisplay(unsafe.Pointer(uintptr(disp))), C.EGLenum(SYNC_FENCE_KHR), nil)
	if uintptr(unsafe.Pointer(s)) == 0 {
		return NoSync, fmt.Errorf("eglcgo: eglCreateSyncKHR failed (0x%x)", GetError())
	}
	return Sync(uintptr(unsafe.Pointer(s))), nil
}

// ClientWaitSync waits up to timeoutNanos (eglcgo.FOREVER for an unbounded
// wait) for sync to signal. flush requests EGL_SYNC_FLUSH_COMMANDS_BIT_KHR.
func ClientWaitSync(disp Display, sync Sync, flush bool, timeoutNanos uint64) (signaled bool, timedOut bool) {
	if fnClientWaitSyncKHR == nil {
		return true, false
	}
	var flags int32
	if flush {
		flags = SYNC_FLUSH_COMMANDS_BIT
	}
	res := C.eglcgo_ClientWaitSyncKHR(fnClientWaitSyncKHR,
		C.EGLDisplay(unsafe.Pointer(uintptr(disp))),
		C.EGLSyncKHR(unsafe.Pointer(uintptr(sync))),
		C.EGLint(flags),
		C.EGLTimeKHR(timeoutNanos),
	)
	switch int32(res) {
	case CONDITION_SATISFIED_KHR:
		return true, false
	case TIMEOUT_EXPIRED_KHR:
		return false, true
	default:
		return false, false
	}
}

func DestroySync(disp Display, sync Sync) {
	if fnDestroySyncKHR == nil || sync == NoSync {
		return
	}
	C.eglcgo_DestroySyncKHR(fnDestroySyncKHR, C.EGLDisplay(unsafe.Pointer(uintptr(disp))), C.EGLSyncKHR(unsafe.Pointer(uintptr(sync))))
}

// CreateImageFromTexture wraps textureID (bound in the producer context) as
// a shareable EGLImage, so a sibling (sharing) context can bind it against
// a texture name of its own without copying pixels (KHR_image_base +
// KHR_gl_texture_2D_image).
func CreateImageFromTexture(disp Display, ctx Context, textureID uint32) (Image, error) {
	if err := resolveKHRFunctions(); err != nil {
		return NoImage, err
	}
	if fnCreateImageKHR == nil {
		return NoImage, fmt.Errorf("eglcgo: KHR_image_base entry point not available")
	}
	attribs := []int32{IMAGE_PRESERVED_KHR, 1, NONE}
	cattrs := toEGLInts(attribs)
	clientBuf := C.EGLClientBuffer(uintptr(textureID))
	img := C.eglcgo_CreateImageKHR(fnCreateImageKHR,
		C.EGLDisplay(unsafe.Pointer(uintptr(disp))),
		C.EGLContext(unsafe.Pointer(uintptr(ctx))),
		C.EGLenum(GL_TEXTURE_2D_KHR),
		clientBuf,
		(*C.EGLint)(unsafe.Pointer(&cattrs[0])),
	)
	if uintptr(unsafe.Pointer(img)) == 0 {
		return NoImage, fmt.Errorf("eglcgo: eglCreateImageKHR failed (0x%x)", GetError())
	}
	return Image(uintptr(unsafe.Pointer(img))), nil
}

func DestroyImage(disp Display, img Image) {
	if fnDestroyImageKHR == nil || img == NoImage {
		return
	}
	C.eglcgo_DestroyImageKHR(fnDestroyImageKHR, C.EGLDisplay(unsafe.Pointer(uintptr(disp))), C.EGLImageKHR(unsafe.Pointer(uintptr(img))))
}

// BindImageAsTexture2D binds img (created by CreateImageFromTexture in the
// producer context) as the storage of the texture currently bound to
// target in the *calling* (sibling/sharing) context: the host side of
// zero-copy handoff, via the OES_EGL_image extension's
// glEGLImageTargetTexture2DOES. The caller must have already bound a
// fresh texture name to target.
func BindImageAsTexture2D(target uint32, img Image) error {
	if fnImageTargetTexture2DOES == nil {
		fnImageTargetTexture2DOES = C.PFNGLEGLIMAGETARGETTEXTURE2DOESPROC_(GetProcAddress("glEGLImageTargetTexture2DOES"))
	}
	if fnImageTargetTexture2DOES == nil {
		return fmt.Errorf("eglcgo: glEGLImageTargetTexture2DOES not available")
	}
	C.eglcgo_ImageTargetTexture2DOES(fnImageTargetTexture2DOES, C.uint(target), unsafe.Pointer(uintptr(img)))
	return nil
}

var fnImageTargetTexture2DOES C.PFNGLEGLIMAGETARGETTEXTURE2DOESPROC_
