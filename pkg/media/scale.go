package media

import (
	"image"

	"golang.org/x/image/draw"
)

// ScaleToBound shrinks img so its longer edge is at most bound pixels,
// preserving aspect ratio. Images already inside the bound are returned
// unchanged.
func ScaleToBound(img image.Image, bound int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if bound <= 0 || (w <= bound && h <= bound) {
		return img
	}
	var nw, nh int
	if w >= h {
		nw = bound
		nh = h * bound / w
	} else {
		nh = bound
		nw = w * bound / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
