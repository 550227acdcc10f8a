package emotion

// TrendDirection classifies the recent emotional trajectory of a session.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendStable  TrendDirection = "stable"
)

// trendWindow is the number of most recent history events considered.
const trendWindow = 5

// Trend inspects the tail of the history ring and reports whether intensity
// has been rising, falling, or holding steady. Fewer than two events is
// always stable.
func Trend(history []Event) TrendDirection {
	if len(history) < 2 {
		return TrendStable
	}
	tail := history
	if len(tail) > trendWindow {
		tail = tail[len(tail)-trendWindow:]
	}

	delta := tail[len(tail)-1].Intensity - tail[0].Intensity
	switch {
	case delta > 0.1:
		return TrendRising
	case delta < -0.1:
		return TrendFalling
	default:
		return TrendStable
	}
}

// NegativeStreak returns the number of consecutive negative-emotion events at
// the end of the history. Used by the behavioural context dimension.
func NegativeStreak(history []Event) int {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Emotion.IsNegative() {
			break
		}
		streak++
	}
	return streak
}
