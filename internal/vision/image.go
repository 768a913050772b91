// Package vision prepares client screen captures for the multimodal LLM and
// caches their analyses.
//
// Captures arrive as base64 strings, optionally with a data-URL prefix. They
// are decoded, downscaled to fit the configured bounding box with aspect
// ratio preserved, and re-encoded as JPEG data URLs — the form every
// vision-capable provider accepts.
package vision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
)

// DefaultMaxImageSize is the bounding box for the larger image side.
const DefaultMaxImageSize = 1024

// jpegQuality for the re-encoded capture. Screen content survives heavy
// compression well.
const jpegQuality = 85

// DecodeDataURL decodes a base64 screen capture, with or without a
// "data:image/*;base64," prefix, into an image.
func DecodeDataURL(s string) (image.Image, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		_, after, found := strings.Cut(s, ",")
		if !found {
			return nil, fmt.Errorf("vision: malformed data URL")
		}
		payload = after
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("vision: decode base64: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("vision: decode image: %w", err)
	}
	return img, nil
}

// Resize scales img down so its larger side is at most maxSize, preserving
// aspect ratio. Images already inside the box are returned unchanged.
func Resize(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxSize && h <= maxSize {
		return img
	}

	var dw, dh int
	if w >= h {
		dw = maxSize
		dh = h * maxSize / w
	} else {
		dh = maxSize
		dw = w * maxSize / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// EncodeJPEGDataURL re-encodes img as a JPEG data URL.
func EncodeJPEGDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("vision: encode jpeg: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Prepare is the full capture path: decode, bound to maxSize, re-encode.
// maxSize ≤ 0 uses DefaultMaxImageSize.
func Prepare(capture string, maxSize int) (string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}

	img, err := DecodeDataURL(capture)
	if err != nil {
		return "", err
	}
	return EncodeJPEGDataURL(Resize(img, maxSize))
}
