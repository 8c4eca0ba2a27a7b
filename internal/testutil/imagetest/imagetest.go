package imagetest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// Pattern returns a deterministic w x h test image seeded by seed.
func Pattern(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*7) + seed,
				G: uint8(y*13) + seed,
				B: uint8(x*y) ^ seed,
				A: 0xFF,
			})
		}
	}
	return img
}

func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// PatternPNG encodes Pattern(w, h, seed).
func PatternPNG(t testing.TB, w, h int, seed uint8) []byte {
	t.Helper()
	return PNG(t, Pattern(w, h, seed))
}

// HeaderOnlyPNG encodes a 1x1 image and rewrites its IHDR to declare
// w x h, fixing the chunk CRC so the header still parses.
func HeaderOnlyPNG(t testing.TB, w, h uint32) []byte {
	t.Helper()
	data := bytes.Clone(PatternPNG(t, 1, 1, 0))
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29
	if len(data) < 33 || string(data[12:16]) != "IHDR" {
		t.Fatalf("unexpected png layout")
	}
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

// SamePixels reports whether a and b have equal bounds and RGBA values.
func SamePixels(a, b image.Image) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Bounds() != b.Bounds() {
		return false
	}
	r := a.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			ar, ag, ab, aa := a.At(x, y).RGBA()
			br, bg, bb, ba := b.At(x, y).RGBA()
			if ar != br || ag != bg || ab != bb || aa != ba {
				return false
			}
		}
	}
	return true
}
