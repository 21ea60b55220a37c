package capture

import "math"

// Chunks whose peak stays under this fraction of full scale are muted when
// noise suppression is on.
const noiseFloor = 0.02

func gateInt16(data []int16) bool {
	limit := int16(math.Trunc(noiseFloor * 32767))
	for _, v := range data {
		if v > limit || v < -limit {
			return false
		}
	}
	clear(data)
	return true
}

func gateFloat32(data []float32) bool {
	for _, v := range data {
		if v > noiseFloor || v < -noiseFloor {
			return false
		}
	}
	clear(data)
	return true
}
