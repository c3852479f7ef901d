package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders a byte count in base-1024 units with two decimals.
func FormatSize(n float64) string {
	if n <= 0 {
		return "0 B"
	}
	i := 0
	for n >= 1024 && i < len(sizeUnits)-1 {
		n /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", n, sizeUnits[i])
}

func FormatSpeed(bps float64) string {
	return FormatSize(bps) + "/s"
}

// FormatDuration renders whole seconds as MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// ParseSeconds accepts the catalog's loosely typed duration values:
// JSON numbers, numeric strings, or anything else (which yields 0).
func ParseSeconds(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return int(f)
	default:
		return 0
	}
}

// TotalPages is never less than one so pagination always has a page to show.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return int(math.Ceil(float64(total) / float64(pageSize)))
}
