package memory

import (
	"context"
	"strings"
)

// catalystMarkers are high-salience phrases the heuristic probe treats as
// a signal that content is a breakthrough worth auto-flagging as a
// catalyst. The spec leaves catalyst auto-detection unspecified; this is
// the simplest rule that satisfies the seed scenarios, kept swappable
// behind the CatalystProbe interface.
var catalystMarkers = []string{
	"breakthrough",
	"realized",
	"realised",
	"discovered",
	"aha",
	"eureka",
	"finally understood",
	"key insight",
}

// HeuristicProbe is the shipped CatalystProbe implementation: it flags
// content containing a high-salience marker phrase or an unusually high
// exclamation density.
type HeuristicProbe struct{}

// Probe reports whether content reads as a catalyst-worthy breakthrough.
func (HeuristicProbe) Probe(_ context.Context, content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range catalystMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return exclamationDensity(content) >= 0.02
}

func exclamationDensity(content string) float64 {
	if len(content) == 0 {
		return 0
	}
	count := strings.Count(content, "!")
	return float64(count) / float64(len(content))
}
