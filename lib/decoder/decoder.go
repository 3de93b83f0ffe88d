// Package decoder defines the external-collaborator boundary between the
// bridge and the video decoder (per spec.md §6). The decoder's own
// internals (demuxing, codecs, playback clock) are out of scope; this
// package only names the operations the bridge core depends on.
package decoder

// VideoOutParams mirrors the decoder's "video-out-params" property: the
// natural (pre-rotation) frame size plus the display rotation angle in
// degrees.
type VideoOutParams struct {
	DW     int64
	DH     int64
	Rotate int64
}

// FBOTarget describes a framebuffer object the decoder should render the
// next video frame into. It is the Go analogue of mpv_opengl_fbo.
type FBOTarget struct {
	FBO    uint32
	Width  int32
	Height int32
	FlipY  bool
}

// SWTarget describes a CPU pixel buffer the decoder should render into,
// following the "rgb0" contract used throughout this bridge (4 bytes per
// pixel, stride = 4*width, no alpha guarantees).
type SWTarget struct {
	Buffer []byte
	Width  int32
	Height int32
	Stride int32
}

// GetProcAddressFunc resolves a GL/GLES function pointer for the decoder's
// own internal GL use; glcontext supplies an implementation backed by
// eglcgo.GetProcAddress.
type GetProcAddressFunc func(name string) uintptr

// Decoder is the interface VideoOutput programs against. A concrete
// implementation (e.g. lib/decoder/mpvdecoder) owns the actual IPC/cgo
// calls into the decoding library.
type Decoder interface {
	// CreateRenderContext asks the decoder to initialize its OpenGL (or
	// software) render context. getProcAddress is only used for the HW
	// path; pass nil to request the SW path.
	CreateRenderContext(getProcAddress GetProcAddressFunc) error

	// SetUpdateCallback registers cb to be invoked (from a decoder-owned
	// thread, at any time) whenever a new frame is ready to be rendered.
	// Passing nil clears the callback; VideoOutput.Dispose must do this
	// before tearing down GL state (spec.md §5, "Dispose races").
	SetUpdateCallback(cb func())

	// RenderIntoFBO renders the latest frame into target using the
	// decoder's own render call; the caller has already bound target's FBO
	// and made the producer GL context current. Returns an error if the
	// decoder reports a rendering failure (the frame must then be
	// discarded, per spec.md §7).
	RenderIntoFBO(target FBOTarget) error

	// RenderSW renders the latest frame into a CPU pixel buffer under the
	// caller's mutex.
	RenderSW(target SWTarget) error

	// VideoOutParams returns the decoder's currently reported output
	// dimensions and rotation.
	VideoOutParams() (VideoOutParams, error)

	// Free releases the decoder's render context. Must be called with the
	// producer GL context current and no fence outstanding (HW path only).
	Free()
}
