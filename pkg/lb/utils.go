package lb

import (
	"math"
	"time"
)

func roundP(x float64, p int) float64 {
	k := math.Pow10(p)
	return math.Floor(x*k+0.5) / k
}

// tickOf picks the poll timeout: the configured tick, or a fraction of the
// idle timeout when only that is set. Negative means block.
func tickOf(tick, idle time.Duration) time.Duration {
	if tick > 0 {
		return tick
	}
	if idle > 0 {
		t := idle / 4
		if t < 10*time.Millisecond {
			t = 10 * time.Millisecond
		}
		return t
	}
	return -1
}
