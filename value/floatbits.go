package value

import "math"

func mathFloatBits(f float64) uint64 { return math.Float64bits(f) }

func mathFloatFromBits(b uint64) float64 { return math.Float64frombits(b) }

func mathFloat32FromBits(b uint32) float32 { return math.Float32frombits(b) }
