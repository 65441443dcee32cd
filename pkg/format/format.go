package format

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

const (
	zeroLatency = "0ms"
	unknownSize = "-"
)

// Bytes renders a model or payload size the way docker does (base 10, "4.1GB")
func Bytes(size int64) string {
	if size <= 0 {
		return unknownSize
	}
	return units.HumanSizeWithPrecision(float64(size), 3)
}

// Duration formats duration in a readable way
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// Latency is for probe and request timings
func Latency(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 {
		return zeroLatency
	}
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000.0)
	}
	return fmt.Sprintf("%dms", ms)
}

// Age reports how long ago t was, "never" for the zero time
func Age(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return units.HumanDuration(now.Sub(t)) + " ago"
}
