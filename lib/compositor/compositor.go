// Package compositor defines the external-collaborator boundary between
// the bridge and the host UI compositor (Flutter's Linux embedder, per
// spec.md §6). The compositor's own scheduling and widget tree are out of
// scope; this package only names what the bridge core depends on.
package compositor

// Frame is what the polled texture callback returns to the host: a
// shareable GL texture name, the GL binding target it was created with,
// and its current dimensions. On the HW path a 1x1 dummy texture is
// substituted when no real frame is available yet (spec.md §6, §8). The
// software path holds no GL texture: its Frames carry Name 0 (1x1 before
// the first frame, then the rendered size), as does the 1x1 Frame of an
// output that is in neither ready state.
type Frame struct {
	Target uint32 // e.g. gl.TEXTURE_2D
	Name   uint32
	Width  uint32
	Height uint32
}

// TextureRegistrar is the subset of the host's texture registrar API the
// bridge calls into: announcing that a new frame is ready to be sampled.
// Polling in the other direction (the host asking for a Frame) is modeled
// as a plain method on VideoOutput, not on this interface, because it is
// the host that calls it.
type TextureRegistrar interface {
	// MarkFrameAvailable notifies the host that textureID has a new frame
	// ready; the host will poll the texture callback at its own cadence.
	MarkFrameAvailable(textureID int64)
}

// DimensionsCallback is invoked whenever the texture's reported dimensions
// change, so the host's widget layer can re-layout. The very first call is
// always (1,1) when width/height are set to "auto" (0), per spec.md §6:
// this forces the widget to mount even before the first real frame
// arrives.
type DimensionsCallback func(textureID int64, width, height int64)

// IdleScheduler is the subset of the host's main-loop API the software
// fallback path needs: a way to run a callback on the host UI thread
// without blocking the calling (decoder) thread (spec.md §4.6 step 1,
// "never call into GL or the host registrar from the decoder's thread").
type IdleScheduler interface {
	PostIdle(f func())
}
