package vision

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"
)

// encodePNG builds a base64 PNG of the given size.
func encodePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeDataURL(t *testing.T) {
	payload := encodePNG(t, 8, 8)

	tests := []struct {
		name string
		in   string
	}{
		{name: "bare base64", in: payload},
		{name: "data url prefix", in: "data:image/png;base64," + payload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeDataURL(tt.in)
			if err != nil {
				t.Fatalf("DecodeDataURL: %v", err)
			}
			if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
				t.Errorf("bounds = %v, want 8x8", b)
			}
		})
	}
}

func TestDecodeDataURLErrors(t *testing.T) {
	if _, err := DecodeDataURL("not-base64!!!"); err == nil {
		t.Error("DecodeDataURL succeeded on invalid base64")
	}
	if _, err := DecodeDataURL(base64.StdEncoding.EncodeToString([]byte("not an image"))); err == nil {
		t.Error("DecodeDataURL succeeded on non-image bytes")
	}
	if _, err := DecodeDataURL("data:image/png;base64"); err == nil {
		t.Error("DecodeDataURL succeeded on a malformed data URL")
	}
}

func TestResizeBounds(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{name: "wide image", w: 2048, h: 512, wantW: 1024, wantH: 256},
		{name: "tall image", w: 512, h: 2048, wantW: 256, wantH: 1024},
		{name: "already small", w: 640, h: 480, wantW: 640, wantH: 480},
		{name: "exactly at bound", w: 1024, h: 768, wantW: 1024, wantH: 768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, tt.w, tt.h))
			got := Resize(src, DefaultMaxImageSize)
			if b := got.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("resized bounds = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestPrepare(t *testing.T) {
	capture := "data:image/png;base64," + encodePNG(t, 1600, 900)

	out, err := Prepare(capture, 1024)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !strings.HasPrefix(out, "data:image/jpeg;base64,") {
		t.Errorf("Prepare output does not carry a JPEG data-URL prefix: %.40s", out)
	}

	img, err := DecodeDataURL(out)
	if err != nil {
		t.Fatalf("decode prepared output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1024 || b.Dy() != 576 {
		t.Errorf("prepared bounds = %dx%d, want 1024x576", b.Dx(), b.Dy())
	}
}

func TestCacheHitWithinBucket(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewAnalysisCache(withClock(func() time.Time { return now }))

	if _, ok := c.Get(5000); ok {
		t.Error("Get hit on an empty cache")
	}

	c.Put(5000, "a code editor")
	got, ok := c.Get(5000)
	if !ok || got != "a code editor" {
		t.Errorf("Get = (%q, %v), want cached analysis", got, ok)
	}

	// A different payload length is a different capture.
	if _, ok := c.Get(6000); ok {
		t.Error("Get hit for a different payload length")
	}
}

func TestCacheBucketRollover(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewAnalysisCache(
		WithAnalysisInterval(10*time.Second),
		withClock(func() time.Time { return now }),
	)

	c.Put(5000, "analysis")

	// Advancing past the bucket boundary changes the key even before the TTL
	// expires.
	now = now.Add(10 * time.Second)
	if _, ok := c.Get(5000); ok {
		t.Error("Get hit after the time bucket rolled over")
	}
}

func TestCacheTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewAnalysisCache(
		WithAnalysisInterval(time.Hour), // one bucket for the whole test
		WithCacheTTL(30*time.Second),
		withClock(func() time.Time { return now }),
	)

	c.Put(5000, "analysis")

	now = now.Add(29 * time.Second)
	if _, ok := c.Get(5000); !ok {
		t.Error("Get missed inside the TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get(5000); ok {
		t.Error("Get hit after the TTL expired")
	}
}

func TestCacheSubSecondInterval(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewAnalysisCache(
		WithAnalysisInterval(500*time.Millisecond),
		withClock(func() time.Time { return now }),
	)

	c.Put(5000, "analysis")
	if _, ok := c.Get(5000); !ok {
		t.Error("Get missed within a sub-second bucket")
	}

	now = now.Add(500 * time.Millisecond)
	if _, ok := c.Get(5000); ok {
		t.Error("Get hit after a sub-second bucket rolled over")
	}
}

func TestCacheZeroIntervalFallsBackToDefault(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewAnalysisCache(
		WithAnalysisInterval(0),
		withClock(func() time.Time { return now }),
	)

	c.Put(5000, "analysis")
	if _, ok := c.Get(5000); !ok {
		t.Error("Get missed with a zero interval")
	}
}
