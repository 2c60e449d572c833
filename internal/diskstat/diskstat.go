// Package diskstat reports disk usage for the filesystem holding the
// storage root.
package diskstat

import "math"

// Usage describes the filesystem backing a path.
type Usage struct {
	UsedBytes  uint64
	TotalBytes uint64
}

// GiB converts a byte count to gibibytes rounded to one decimal.
func GiB(bytes uint64) float64 {
	return math.Round(float64(bytes)/float64(1<<30)*10) / 10
}
