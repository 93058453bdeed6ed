package decision

import "math"

// AngleSequence lists rotation angles in search order: 0 first, then
// alternating +step, -step, +2*step, -2*step and so on, limited to
// [minAngle, maxAngle].
func AngleSequence(minAngle, maxAngle, step float64) []float64 {
	angles := []float64{0}
	if step <= 0 {
		return angles
	}

	const eps = 1e-9
	for k := 1; ; k++ {
		delta := float64(k) * step
		pos, neg := delta <= maxAngle+eps, -delta >= minAngle-eps
		if !pos && !neg {
			break
		}
		if pos {
			angles = append(angles, delta)
		}
		if neg {
			angles = append(angles, -delta)
		}
	}
	return angles
}

// expandedSize is the canvas that holds a w x h image rotated by angle
// degrees without cropping.
func expandedSize(w, h int, angle float64) (int, int) {
	rad := angle * math.Pi / 180
	cos := math.Abs(math.Cos(rad))
	sin := math.Abs(math.Sin(rad))
	newW := int(math.Ceil(float64(h)*sin + float64(w)*cos - 1e-6))
	newH := int(math.Ceil(float64(h)*cos + float64(w)*sin - 1e-6))
	return newW, newH
}
