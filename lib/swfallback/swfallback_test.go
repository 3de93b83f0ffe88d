package swfallback

import "testing"

func TestClampAspectNoopWhenWithinBounds(t *testing.T) {
	w, h := clampAspect(800, 600, MaxWidth, MaxHeight)
	if w != 800 || h != 600 {
		t.Fatalf("clampAspect(800,600) = (%d,%d), want (800,600)", w, h)
	}
}

func TestClampAspectScalesDownWidthLimited(t *testing.T) {
	// 3840x2160 (16:9) overflows both dimensions; width is the binding
	// constraint once height is also considered since 1920/3840 == 0.5 and
	// 1080/2160 == 0.5 exactly, so either bound gives the same scale here.
	w, h := clampAspect(3840, 2160, MaxWidth, MaxHeight)
	if w != 1920 || h != 1080 {
		t.Fatalf("clampAspect(3840,2160) = (%d,%d), want (1920,1080)", w, h)
	}
}

func TestClampAspectPreservesAspectRatioTall(t *testing.T) {
	// A 1080x1920 portrait frame overflows height, not width.
	w, h := clampAspect(1080, 1920, MaxWidth, MaxHeight)
	if h != MaxHeight {
		t.Fatalf("clampAspect(1080,1920) height = %d, want %d", h, MaxHeight)
	}
	srcH := 1920.0
	wantW := int32(float64(1080) * (float64(MaxHeight) / srcH))
	if w != wantW {
		t.Fatalf("clampAspect(1080,1920) width = %d, want %d", w, wantW)
	}
}

func TestClampAspectPreservesAspectRatioWide(t *testing.T) {
	// A 7680x2160 ultrawide overflows width, not height.
	w, h := clampAspect(7680, 2160, MaxWidth, MaxHeight)
	if w != MaxWidth {
		t.Fatalf("clampAspect(7680,2160) width = %d, want %d", w, MaxWidth)
	}
	srcW := 7680.0
	wantH := int32(float64(2160) * (float64(MaxWidth) / srcW))
	if h != wantH {
		t.Fatalf("clampAspect(7680,2160) height = %d, want %d", h, wantH)
	}
}
