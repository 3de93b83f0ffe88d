// mpvhandle.go bootstraps a bare libmpv instance and hands its raw
// mpv_handle to lib/decoder/mpvdecoder.New, which (per spec.md §1) treats
// playback/demuxing/codec setup as out of scope and expects an
// already-initialized handle. This file is the minimal "whatever
// higher-level code owns playback" the decoder package's doc comment
// refers to, kept separate from main.go so the cgo preamble doesn't leak
// into the rest of the demo.
package main

/*
#cgo LDFLAGS: -lmpv
#include <stdlib.h>
#include <mpv/client.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type mpvHandle struct {
	h *C.mpv_handle
}

func newMPVHandle() (*mpvHandle, error) {
	h := C.mpv_create()
	if h == nil {
		return nil, fmt.Errorf("mpv_create failed")
	}
	if ret := C.mpv_initialize(h); ret != 0 {
		C.mpv_terminate_destroy(h)
		return nil, fmt.Errorf("mpv_initialize failed: %d", int(ret))
	}
	return &mpvHandle{h: h}, nil
}

func (m *mpvHandle) Pointer() unsafe.Pointer { return unsafe.Pointer(m.h) }

func (m *mpvHandle) LoadFile(path string) error {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	args := []*C.char{C.CString("loadfile"), cpath, nil}
	defer C.free(unsafe.Pointer(args[0]))
	if ret := C.mpv_command(m.h, &args[0]); ret != 0 {
		return fmt.Errorf("mpv_command(loadfile) failed: %d", int(ret))
	}
	return nil
}

func (m *mpvHandle) Destroy() {
	C.mpv_terminate_destroy(m.h)
}
