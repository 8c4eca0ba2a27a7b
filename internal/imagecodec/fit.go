package imagecodec

import (
	"image"

	"golang.org/x/image/draw"
)

// Fit scales img to fit inside w x h keeping its aspect ratio.
// Non-positive bounds or an already fitting image return img unchanged.
func Fit(img image.Image, w, h int) image.Image {
	if img == nil || w <= 0 || h <= 0 {
		return img
	}
	b := img.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 || (sw <= w && sh <= h) {
		return img
	}
	dw, dh := w, sh*w/sw
	if dh > h {
		dw, dh = sw*h/sh, h
	}
	dw, dh = max(dw, 1), max(dh, 1)
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
