// Package classify decides, pixel by pixel, whether a color belongs to the
// target material.
package classify

import (
	"fmt"
)

// ColorRange is an inclusive box in a three channel color space. A sample is
// inside when every channel lies within its [Min, Max] pair.
type ColorRange struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Min  [3]int `yaml:"min" json:"min"`
	Max  [3]int `yaml:"max" json:"max"`
}

// Contains reports whether (c0, c1, c2) lies inside r.
func (r ColorRange) Contains(c0, c1, c2 uint8) bool {
	return int(c0) >= r.Min[0] && int(c0) <= r.Max[0] &&
		int(c1) >= r.Min[1] && int(c1) <= r.Max[1] &&
		int(c2) >= r.Min[2] && int(c2) <= r.Max[2]
}

// Bounds lists the bounds channel by channel, min before max. This is the
// order the parameter hash consumes them in.
func (r ColorRange) Bounds() [6]int {
	return [6]int{r.Min[0], r.Max[0], r.Min[1], r.Max[1], r.Min[2], r.Max[2]}
}

func (r ColorRange) Validate(limits [3]int) error {
	for ch := 0; ch < 3; ch++ {
		if r.Min[ch] < 0 || r.Max[ch] > limits[ch] {
			return fmt.Errorf("range %q channel %d bounds [%d,%d] outside [0,%d]",
				r.Name, ch, r.Min[ch], r.Max[ch], limits[ch])
		}
		if r.Min[ch] > r.Max[ch] {
			return fmt.Errorf("range %q channel %d min %d exceeds max %d",
				r.Name, ch, r.Min[ch], r.Max[ch])
		}
	}
	return nil
}

// RangeSet is an ordered union of ranges.
type RangeSet []ColorRange

// Contains reports whether any range accepts the sample.
func (s RangeSet) Contains(c0, c1, c2 uint8) bool {
	for i := range s {
		if s[i].Contains(c0, c1, c2) {
			return true
		}
	}
	return false
}

// ParamHash folds every bound, range by range in declared order, into a
// 31-multiplier rolling hash. Any change to any bound changes the result.
func (s RangeSet) ParamHash() uint32 {
	var hash uint32
	for _, r := range s {
		for _, b := range r.Bounds() {
			hash = hash*31 + uint32(int32(b))
		}
	}
	return hash
}

func (s RangeSet) Validate(limits [3]int) error {
	if len(s) == 0 {
		return fmt.Errorf("at least one color range is required")
	}
	for _, r := range s {
		if err := r.Validate(limits); err != nil {
			return err
		}
	}
	return nil
}
