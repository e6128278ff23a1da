package helper

import (
	"fmt"
	"time"
)

// FormatTTL renders a duration the way the CLI shows remaining lifetimes:
// "3.5h", "12.0m", "40.0s". Non-positive durations render as "expired".
func FormatTTL(d time.Duration) string {
	switch {
	case d <= 0:
		return "expired"
	case d >= time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	case d >= time.Minute:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}
