package objectdetection

import "image"

// IOU returns the intersection over union of two axis-aligned rectangles,
// in [0, 1]. Disjoint rectangles have an IOU of 0, as does a pair whose
// union has zero area.
func IOU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}
