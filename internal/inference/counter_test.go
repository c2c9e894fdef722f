package inference

import (
	"testing"

	"github.com/fruitvision/vision-server/pkg/types"
)

func det(class string, x1, y1, x2, y2 float64) types.Detection {
	box := types.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
	return types.Detection{Class: class, Confidence: 0.9, BBox: box.Array(), Box: box}
}

func TestObjectCounterStableIDs(t *testing.T) {
	oc := NewObjectCounter()

	first := oc.Update([]types.Detection{det("apple", 10, 10, 50, 50)})
	if first[0].ID != 0 {
		t.Fatalf("expected first track ID 0, got %d", first[0].ID)
	}

	// object moved slightly; must keep its ID and not count again
	second := oc.Update([]types.Detection{det("apple", 14, 12, 54, 52)})
	if second[0].ID != 0 {
		t.Errorf("expected matched track to keep ID 0, got %d", second[0].ID)
	}
	if oc.Total() != 1 {
		t.Errorf("expected 1 distinct object, got %d", oc.Total())
	}
}

func TestObjectCounterClassSeparation(t *testing.T) {
	oc := NewObjectCounter()
	oc.Update([]types.Detection{det("apple", 10, 10, 50, 50)})

	// same place, different class: a new object
	out := oc.Update([]types.Detection{det("banana", 10, 10, 50, 50)})
	if out[0].ID != 1 {
		t.Errorf("expected new track for different class, got ID %d", out[0].ID)
	}
	counts := oc.Counts()
	if counts["apple"] != 1 || counts["banana"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if oc.Total() != 2 {
		t.Errorf("expected total 2, got %d", oc.Total())
	}
}

func TestObjectCounterNewObjectsCounted(t *testing.T) {
	oc := NewObjectCounter()
	oc.Update([]types.Detection{det("apple", 10, 10, 50, 50)})

	out := oc.Update([]types.Detection{
		det("apple", 10, 10, 50, 50),
		det("apple", 200, 200, 260, 260),
	})
	if out[0].ID == out[1].ID {
		t.Errorf("expected distinct IDs, got %d twice", out[0].ID)
	}
	if oc.Total() != 2 {
		t.Errorf("expected total 2, got %d", oc.Total())
	}
}

func TestObjectCounterTrackExpiry(t *testing.T) {
	oc := NewObjectCounter()
	oc.Update([]types.Detection{det("apple", 10, 10, 50, 50)})

	// stay absent past the miss limit, then reappear
	for i := 0; i < 12; i++ {
		oc.Update(nil)
	}
	out := oc.Update([]types.Detection{det("apple", 10, 10, 50, 50)})
	if out[0].ID != 1 {
		t.Errorf("expected expired track to be replaced with new ID, got %d", out[0].ID)
	}
	if oc.Total() != 2 {
		t.Errorf("expected reappearance to count as new object, got %d", oc.Total())
	}
}
