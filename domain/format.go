package domain

import (
	"fmt"
	"math"
)

// FormatTimestamp renders seconds as m:ss. Minutes are not wrapped into
// hours, so 3600 renders as "60:00".
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// FloorSeconds converts a playback position to whole seconds.
func FloorSeconds(position float64) (int, error) {
	if math.IsNaN(position) || math.IsInf(position, 0) || position < 0 {
		return 0, ErrInvalidTimestamp
	}
	return int(math.Floor(position)), nil
}
