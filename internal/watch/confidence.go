package watch

import (
	"math"

	"github.com/ajitpratap0/whalecopy/internal/store"
)

// Score computes a signal confidence score from the whale's priority score,
// the observed position ROE and a leverage penalty. The result is clamped
// to [10, 100].
func Score(whaleScore int, roe float64, leverage int) int {
	roeBonus := math.Min(30, math.Abs(roe)*3)
	leveragePenalty := math.Min(20, float64(leverage)*1.5)
	score := 0.5*float64(whaleScore) + roeBonus - leveragePenalty

	if score < 10 {
		return 10
	}
	if score > 100 {
		return 100
	}
	return int(math.Round(score))
}

// Bucket maps a confidence score to its named band
func Bucket(score int) store.Confidence {
	switch {
	case score < 40:
		return store.ConfidenceLow
	case score < 60:
		return store.ConfidenceMedium
	case score < 80:
		return store.ConfidenceHigh
	default:
		return store.ConfidenceVeryHigh
	}
}

// DerivePriority ranks a signal by its follower context. Whales with an
// active auto-copy follower always dispatch first; unfollowed whales still
// produce signals for discovery data but process last.
func DerivePriority(flags store.FollowerFlags, confidence store.Confidence) store.Priority {
	if flags.HasAutoCopy || confidence == store.ConfidenceVeryHigh {
		return store.PriorityHigh
	}
	if !flags.HasActive {
		return store.PriorityLow
	}
	return store.PriorityMedium
}
