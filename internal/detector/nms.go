package detector

import (
	"math"
	"sort"

	"github.com/ayusman/headcount/internal/geom"
)

// NMS performs greedy non-maximum suppression. Boxes are visited in order of
// decreasing confidence and any later box whose IoU with a kept box exceeds
// threshold is dropped. The input slice is not modified.
func NMS(dets []geom.Detection, threshold float64) []geom.Detection {
	if len(dets) == 0 {
		return nil
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Confidence > dets[order[b]].Confidence
	})

	suppressed := make([]bool, len(dets))
	kept := make([]geom.Detection, 0, len(dets))
	for i, n := range order {
		if suppressed[n] {
			continue
		}
		kept = append(kept, dets[n])

		for _, m := range order[i+1:] {
			if !suppressed[m] && IoU(dets[n], dets[m]) > threshold {
				suppressed[m] = true
			}
		}
	}
	return kept
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b geom.Detection) float64 {
	w := math.Max(0, float64(min(a.X2, b.X2)-max(a.X1, b.X1)))
	h := math.Max(0, float64(min(a.Y2, b.Y2)-max(a.Y1, b.Y1)))
	inter := w * h

	union := area(a) + area(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func area(d geom.Detection) float64 {
	return math.Max(0, float64(d.X2-d.X1)) * math.Max(0, float64(d.Y2-d.Y1))
}
