// Package mpvdecoder implements decoder.Decoder against libmpv's render
// API (render_context_create/render/free, get_property("video-out-params")),
// matching the calls original_source/media_kit_video/linux/video_output.cc
// makes against mpv_render_context_*.
//
// The decoder's own update callback crosses the cgo boundary as a C
// function pointer with an opaque void* userdata; we use
// github.com/mattn/go-pointer to recover the *Decoder on the Go side, the
// same technique lib/source/htmlsource/plutobook uses for its custom
// resource fetcher callback.
package mpvdecoder

/*
#cgo LDFLAGS: -lmpv
#include <stdlib.h>
#include <mpv/client.h>
#include <mpv/render_gl.h>

extern void goRenderUpdateCallback(void *userdata);
extern void *goGetProcAddress(void *ctx, const char *name);

static inline void mpvdecoder_set_update_callback(mpv_render_context *ctx, void *userdata) {
	mpv_render_context_set_update_callback(ctx, goRenderUpdateCallback, userdata);
}

static inline int mpvdecoder_create_hw(mpv_render_context **ctx, mpv_handle *mpv, void *gpa_ctx) {
	mpv_opengl_init_params gl_params = { (mpv_opengl_get_proc_address_fn)goGetProcAddress, gpa_ctx };
	int api_type_opengl = 1;
	mpv_render_param params[] = {
		{MPV_RENDER_PARAM_API_TYPE, (void*)MPV_RENDER_API_TYPE_OPENGL},
		{MPV_RENDER_PARAM_OPENGL_INIT_PARAMS, &gl_params},
		{MPV_RENDER_PARAM_INVALID, NULL},
	};
	return mpv_render_context_create(ctx, mpv, params);
}

static inline int mpvdecoder_create_sw(mpv_render_context **ctx, mpv_handle *mpv) {
	mpv_render_param params[] = {
		{MPV_RENDER_PARAM_API_TYPE, (void*)MPV_RENDER_API_TYPE_SW},
		{MPV_RENDER_PARAM_INVALID, NULL},
	};
	return mpv_render_context_create(ctx, mpv, params);
}

static inline int mpvdecoder_render_fbo(mpv_render_context *ctx, int fbo, int w, int h, int flip_y) {
	mpv_opengl_fbo target = { fbo, w, h, 0 };
	mpv_render_param params[] = {
		{MPV_RENDER_PARAM_OPENGL_FBO, &target},
		{MPV_RENDER_PARAM_FLIP_Y, &flip_y},
		{MPV_RENDER_PARAM_INVALID, NULL},
	};
	return mpv_render_context_render(ctx, params);
}

static inline int mpvdecoder_render_sw(mpv_render_context *ctx, void *ptr, int w, int h, int stride) {
	int size[2] = {w, h};
	mpv_render_param params[] = {
		{MPV_RENDER_PARAM_SW_SIZE, size},
		{MPV_RENDER_PARAM_SW_FORMAT, (void*)"rgb0"},
		{MPV_RENDER_PARAM_SW_STRIDE, &stride},
		{MPV_RENDER_PARAM_SW_POINTER, ptr},
		{MPV_RENDER_PARAM_INVALID, NULL},
	};
	return mpv_render_context_render(ctx, params);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/fosdem/gpuvideobridge/lib/decoder"
	gopointer "github.com/mattn/go-pointer"
)

// Decoder wraps a live mpv_handle and the render context created from it.
type Decoder struct {
	mu       sync.Mutex
	handle   *C.mpv_handle
	renderer *C.mpv_render_context
	callback func()
	pointer  unsafe.Pointer
}

// New wraps an already-initialized mpv_handle (obtained and configured by
// whatever higher-level code owns playback, out of scope here per
// spec.md §1).
func New(handle unsafe.Pointer) *Decoder {
	return &Decoder{handle: (*C.mpv_handle)(handle)}
}

func (d *Decoder) CreateRenderContext(getProcAddress decoder.GetProcAddressFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ret C.int
	if getProcAddress != nil {
		// mpv's own get_proc_address callback signature takes (void*
		// ctx, const char* name); getProcAddress is captured by a closure
		// that is saved with go-pointer and passed as ctx, and
		// goGetProcAddress restores it on every lookup.
		resolver := func(name string) unsafe.Pointer {
			return unsafe.Pointer(getProcAddress(name))
		}
		d.pointer = gopointer.Save(resolver)
		ret = C.mpvdecoder_create_hw(&d.renderer, d.handle, d.pointer)
	} else {
		ret = C.mpvdecoder_create_sw(&d.renderer, d.handle)
	}
	if ret != 0 {
		return fmt.Errorf("mpvdecoder: mpv_render_context_create failed: %d", int(ret))
	}
	return nil
}

func (d *Decoder) SetUpdateCallback(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = cb
	if d.renderer == nil {
		return
	}
	if cb == nil {
		C.mpv_render_context_set_update_callback(d.renderer, nil, nil)
		return
	}
	ptr := gopointer.Save(d)
	C.mpvdecoder_set_update_callback(d.renderer, ptr)
}

func (d *Decoder) RenderIntoFBO(target decoder.FBOTarget) error {
	d.mu.Lock()
	renderer := d.renderer
	d.mu.Unlock()
	if renderer == nil {
		return fmt.Errorf("mpvdecoder: render context not initialized")
	}
	flipY := C.int(0)
	if target.FlipY {
		flipY = 1
	}
	ret := C.mpvdecoder_render_fbo(renderer, C.int(target.FBO), C.int(target.Width), C.int(target.Height), flipY)
	if ret != 0 {
		return fmt.Errorf("mpvdecoder: render failed: %d", int(ret))
	}
	return nil
}

func (d *Decoder) RenderSW(target decoder.SWTarget) error {
	d.mu.Lock()
	renderer := d.renderer
	d.mu.Unlock()
	if renderer == nil {
		return fmt.Errorf("mpvdecoder: render context not initialized")
	}
	if len(target.Buffer) == 0 {
		return fmt.Errorf("mpvdecoder: empty SW buffer")
	}
	ret := C.mpvdecoder_render_sw(renderer, unsafe.Pointer(&target.Buffer[0]), C.int(target.Width), C.int(target.Height), C.int(target.Stride))
	if ret != 0 {
		return fmt.Errorf("mpvdecoder: SW render failed: %d", int(ret))
	}
	return nil
}

func (d *Decoder) VideoOutParams() (decoder.VideoOutParams, error) {
	d.mu.Lock()
	handle := d.handle
	d.mu.Unlock()

	name := C.CString("video-out-params")
	defer C.free(unsafe.Pointer(name))

	var node C.mpv_node
	if ret := C.mpv_get_property(handle, name, C.MPV_FORMAT_NODE, unsafe.Pointer(&node)); ret != 0 {
		return decoder.VideoOutParams{}, fmt.Errorf("mpvdecoder: get_property(video-out-params) failed: %d", int(ret))
	}
	defer C.mpv_free_node_contents(&node)

	var out decoder.VideoOutParams
	if node.format != C.MPV_FORMAT_NODE_MAP {
		return out, nil
	}
	list := node.u.list
	n := int(list.num)
	keys := unsafe.Slice(list.keys, n)
	values := unsafe.Slice(list.values, n)
	for i := 0; i < n; i++ {
		key := C.GoString(keys[i])
		v := values[i]
		if v.format != C.MPV_FORMAT_INT64 {
			continue
		}
		val := int64(*(*C.int64_t)(unsafe.Pointer(&v.u)))
		switch key {
		case "dw":
			out.DW = val
		case "dh":
			out.DH = val
		case "rotate":
			out.Rotate = val
		}
	}
	return out, nil
}

func (d *Decoder) Free() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.renderer != nil {
		C.mpv_render_context_free(d.renderer)
		d.renderer = nil
	}
	if d.pointer != nil {
		gopointer.Unref(d.pointer)
		d.pointer = nil
	}
}

//export goGetProcAddress
func goGetProcAddress(ctx unsafe.Pointer, name *C.char) unsafe.Pointer {
	resolver, ok := gopointer.Restore(ctx).(func(string) unsafe.Pointer)
	if !ok || resolver == nil {
		return nil
	}
	return resolver(C.GoString(name))
}

//export goRenderUpdateCallback
func goRenderUpdateCallback(userdata unsafe.Pointer) {
	d, ok := gopointer.Restore(userdata).(*Decoder)
	if !ok || d == nil {
		return
	}
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}
