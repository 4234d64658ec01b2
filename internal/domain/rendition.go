package domain

import "math"

type Quality string

const (
	Quality2160 Quality = "4K"
	Quality1440 Quality = "1440p"
	Quality1080 Quality = "1080p"
	Quality720  Quality = "720p"
)

// heightTiers lists the supported rendition heights, highest first.
var heightTiers = []int{2160, 1440, 1080, 720}

// Rendition is one quality tier to download and its share of the overall progress.
type Rendition struct {
	Height int     `json:"height"`
	Weight float64 `json:"weight"`
}

// PlanRenditions returns the renditions to fetch for a target quality. High tiers
// always carry a 1080p fallback so every client has a playable asset.
func PlanRenditions(q Quality) []Rendition {
	switch q {
	case Quality2160:
		return []Rendition{{Height: 2160, Weight: 0.65}, {Height: 1080, Weight: 0.35}}
	case Quality1440:
		return []Rendition{{Height: 1440, Weight: 0.65}, {Height: 1080, Weight: 0.35}}
	case Quality720:
		return []Rendition{{Height: 720, Weight: 1}}
	default:
		return []Rendition{{Height: 1080, Weight: 1}}
	}
}

// FitRenditions steps every rendition down a tier while it is taller than the
// source's native height, then folds renditions that ended up on the same tier
// together, keeping the first position and summing weights. A native height of
// zero means unknown and leaves the plan untouched.
func FitRenditions(plan []Rendition, nativeHeight int) []Rendition {
	fitted := make([]Rendition, 0, len(plan))
	for _, r := range plan {
		h := r.Height
		if nativeHeight > 0 {
			for h > nativeHeight {
				lower, ok := stepDown(h)
				if !ok {
					break
				}
				h = lower
			}
		}

		merged := false
		for i := range fitted {
			if fitted[i].Height == h {
				fitted[i].Weight += r.Weight
				merged = true
				break
			}
		}
		if !merged {
			fitted = append(fitted, Rendition{Height: h, Weight: r.Weight})
		}
	}
	return fitted
}

func stepDown(height int) (int, bool) {
	for i, h := range heightTiers {
		if h == height && i+1 < len(heightTiers) {
			return heightTiers[i+1], true
		}
	}
	for _, h := range heightTiers {
		if h < height {
			return h, true
		}
	}
	return height, false
}

// OverallProgress combines finished renditions and the running one into a single
// fraction in [0,1].
func OverallProgress(plan []Rendition, finished int, current float64) float64 {
	var total float64
	for i := 0; i < finished && i < len(plan); i++ {
		total += plan[i].Weight
	}
	if finished < len(plan) {
		total += math.Max(0, math.Min(1, current)) * plan[finished].Weight
	}
	return math.Min(1, total)
}
