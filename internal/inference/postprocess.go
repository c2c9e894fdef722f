package inference

import (
	"sort"

	"github.com/fruitvision/vision-server/pkg/types"
)

// candidate is one raw model prediction kept past the confidence threshold.
type candidate struct {
	box     types.BoundingBox // in source-image coordinates
	rawBox  types.BoundingBox // in model-input coordinates
	score   float32
	classID int
	coeffs  []float32 // mask coefficients; detector outputs carry none
}

// decodePredictions walks a yolo11 output tensor laid out as
// (4+numClasses+numCoeffs, numBoxes) row-major and keeps every box whose best
// class score passes confThr, scaled back to imgW x imgH.
func decodePredictions(output []float32, numClasses, numCoeffs, numBoxes, inputSize int,
	confThr float32, imgW, imgH int) []candidate {

	rows := 4 + numClasses + numCoeffs
	if len(output) < rows*numBoxes {
		return nil
	}

	scaleX := float64(imgW) / float64(inputSize)
	scaleY := float64(imgH) / float64(inputSize)

	var kept []candidate
	for i := 0; i < numBoxes; i++ {
		classID, score := 0, float32(0)
		for c := 0; c < numClasses; c++ {
			if s := output[(4+c)*numBoxes+i]; s > score {
				score = s
				classID = c
			}
		}
		if score < confThr {
			continue
		}

		xc := float64(output[i])
		yc := float64(output[numBoxes+i])
		w := float64(output[2*numBoxes+i])
		h := float64(output[3*numBoxes+i])

		raw := types.BoundingBox{
			X1: xc - w/2,
			Y1: yc - h/2,
			X2: xc + w/2,
			Y2: yc + h/2,
		}
		box := types.BoundingBox{
			X1: clamp(raw.X1*scaleX, 0, float64(imgW)),
			Y1: clamp(raw.Y1*scaleY, 0, float64(imgH)),
			X2: clamp(raw.X2*scaleX, 0, float64(imgW)),
			Y2: clamp(raw.Y2*scaleY, 0, float64(imgH)),
		}

		var coeffs []float32
		if numCoeffs > 0 {
			coeffs = make([]float32, numCoeffs)
			for c := 0; c < numCoeffs; c++ {
				coeffs[c] = output[(4+numClasses+c)*numBoxes+i]
			}
		}

		kept = append(kept, candidate{
			box:     box,
			rawBox:  raw,
			score:   score,
			classID: classID,
			coeffs:  coeffs,
		})
	}
	return kept
}

// nonMaxSuppression applies class-agnostic greedy NMS at iouThr, highest
// score first.
func nonMaxSuppression(cands []candidate, iouThr float32) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	var out []candidate
	suppressed := make([]bool, len(cands))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		out = append(out, cands[i])
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] {
				continue
			}
			if cands[i].box.IoU(cands[j].box) > float64(iouThr) {
				suppressed[j] = true
			}
		}
	}
	return out
}

// toDetections converts surviving candidates into wire detections, numbering
// them in score order.
func toDetections(cands []candidate, labels []string) []types.Detection {
	dets := make([]types.Detection, 0, len(cands))
	for i, c := range cands {
		label := "unknown"
		if c.classID >= 0 && c.classID < len(labels) {
			label = labels[c.classID]
		}
		dets = append(dets, types.Detection{
			ID:         i,
			Class:      label,
			Confidence: float64(c.score),
			BBox:       c.box.Array(),
			Box:        c.box,
		})
	}
	return dets
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
