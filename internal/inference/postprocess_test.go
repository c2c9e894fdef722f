package inference

import (
	"math"
	"testing"

	"github.com/fruitvision/vision-server/pkg/types"
)

// synthOutput builds a row-major (4+numClasses, numBoxes) tensor from boxes
// given as (cx, cy, w, h, classID, score) in model-input coordinates.
func synthOutput(t *testing.T, numClasses, numBoxes int, boxes [][6]float32) []float32 {
	t.Helper()
	out := make([]float32, (4+numClasses)*numBoxes)
	if len(boxes) > numBoxes {
		t.Fatalf("too many boxes: %d > %d", len(boxes), numBoxes)
	}
	for i, b := range boxes {
		out[i] = b[0]
		out[numBoxes+i] = b[1]
		out[2*numBoxes+i] = b[2]
		out[3*numBoxes+i] = b[3]
		out[(4+int(b[4]))*numBoxes+i] = b[5]
	}
	return out
}

func TestDecodePredictionsThresholdAndScaling(t *testing.T) {
	const (
		numClasses = 2
		numBoxes   = 4
		inputSize  = 640
	)
	output := synthOutput(t, numClasses, numBoxes, [][6]float32{
		{320, 320, 100, 200, 0, 0.9},  // kept
		{100, 100, 40, 40, 1, 0.1},    // below threshold
		{600, 600, 120, 120, 1, 0.55}, // kept, clipped at image edge
	})

	// source image is half the model input on both axes
	cands := decodePredictions(output, numClasses, 0, numBoxes, inputSize, 0.25, 320, 240)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}

	first := cands[0]
	if first.classID != 0 {
		t.Errorf("expected class 0, got %d", first.classID)
	}
	want := types.BoundingBox{X1: 135, Y1: 82.5, X2: 185, Y2: 157.5}
	if math.Abs(first.box.X1-want.X1) > 1e-6 || math.Abs(first.box.Y1-want.Y1) > 1e-6 ||
		math.Abs(first.box.X2-want.X2) > 1e-6 || math.Abs(first.box.Y2-want.Y2) > 1e-6 {
		t.Errorf("unexpected scaled box: %+v", first.box)
	}

	edge := cands[1]
	if edge.box.X2 > 320 || edge.box.Y2 > 240 {
		t.Errorf("box not clipped to image bounds: %+v", edge.box)
	}
}

func TestDecodePredictionsShortTensor(t *testing.T) {
	if got := decodePredictions([]float32{1, 2, 3}, 80, 0, 8400, 640, 0.25, 640, 640); got != nil {
		t.Fatalf("expected nil for truncated tensor, got %d candidates", len(got))
	}
}

func TestNonMaxSuppression(t *testing.T) {
	cands := []candidate{
		{box: types.BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, score: 0.8, classID: 0},
		{box: types.BoundingBox{X1: 5, Y1: 5, X2: 105, Y2: 105}, score: 0.9, classID: 0},
		{box: types.BoundingBox{X1: 300, Y1: 300, X2: 400, Y2: 400}, score: 0.5, classID: 1},
	}

	kept := nonMaxSuppression(cands, 0.45)
	if len(kept) != 2 {
		t.Fatalf("expected 2 boxes after NMS, got %d", len(kept))
	}
	if kept[0].score != 0.9 {
		t.Errorf("expected highest-scoring box first, got score %f", kept[0].score)
	}
	if kept[1].classID != 1 {
		t.Errorf("expected distant box to survive, got class %d", kept[1].classID)
	}
}

func TestToDetectionsLabelsAndIDs(t *testing.T) {
	cands := []candidate{
		{box: types.BoundingBox{X1: 1, Y1: 2, X2: 3, Y2: 4}, score: 0.9, classID: 0},
		{box: types.BoundingBox{X1: 5, Y1: 6, X2: 7, Y2: 8}, score: 0.4, classID: 999},
	}

	dets := toDetections(cands, cocoLabels)
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
	if dets[0].ID != 0 || dets[1].ID != 1 {
		t.Errorf("expected sequential IDs, got %d and %d", dets[0].ID, dets[1].ID)
	}
	if dets[0].Class != "person" {
		t.Errorf("expected class person, got %q", dets[0].Class)
	}
	if dets[1].Class != "unknown" {
		t.Errorf("expected out-of-range class to map to unknown, got %q", dets[1].Class)
	}
	if dets[0].BBox != [4]float64{1, 2, 3, 4} {
		t.Errorf("unexpected bbox array: %v", dets[0].BBox)
	}
}
