package util

import (
	"math"
	"strconv"
)

func Float64Ptr(v float64) *float64 {
	return &v
}

// FormatMarks 2 -> "2", 1.5 -> "1.5", nil -> ""
func FormatMarks(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Round1 保留一位小数
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ClampMarks 限制在 [0, max]
func ClampMarks(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
