package coverage

import (
	"fmt"
	"time"
)

// FormatHMS renders whole seconds as "1h2min3s", "3min20s" or "45s".
// Leading zero units are omitted; inner ones are kept.
func FormatHMS(total int64) string {
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dmin%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dmin%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// ElapsedLabel is the nominal campaign time of a batch:
// min(batchIndex*width, budget), formatted with FormatHMS.
func ElapsedLabel(batchIndex int, width, budget time.Duration) string {
	elapsed := time.Duration(batchIndex) * width
	if elapsed > budget {
		elapsed = budget
	}
	return FormatHMS(int64(elapsed / time.Second))
}
