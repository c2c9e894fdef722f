package inference

import (
	"github.com/fruitvision/vision-server/pkg/types"
)

// track is one object followed across frames.
type track struct {
	id     int
	class  string
	box    types.BoundingBox
	misses int
}

// ObjectCounter assigns stable IDs to detections across consecutive video
// frames and counts each distinct object once. Association is greedy IoU
// matching within the same class; a track survives maxMisses frames without
// a match before it is dropped. Not safe for concurrent use.
type ObjectCounter struct {
	tracks    []*track
	nextID    int
	matchIoU  float64
	maxMisses int
	counts    map[string]int
	total     int
}

func NewObjectCounter() *ObjectCounter {
	return &ObjectCounter{
		matchIoU:  0.3,
		maxMisses: 10,
		counts:    make(map[string]int),
	}
}

// Update associates dets with existing tracks and returns the same slice
// with track-stable IDs set. Newly seen objects increment the per-class and
// total counts.
func (oc *ObjectCounter) Update(dets []types.Detection) []types.Detection {
	matched := make([]bool, len(oc.tracks))

	for i := range dets {
		bestIoU := oc.matchIoU
		bestIdx := -1
		for j, tr := range oc.tracks {
			if matched[j] || tr.class != dets[i].Class {
				continue
			}
			if iou := tr.box.IoU(dets[i].Box); iou > bestIoU {
				bestIoU = iou
				bestIdx = j
			}
		}
		if bestIdx >= 0 {
			tr := oc.tracks[bestIdx]
			matched[bestIdx] = true
			tr.box = dets[i].Box
			tr.misses = 0
			dets[i].ID = tr.id
			continue
		}

		tr := &track{
			id:    oc.nextID,
			class: dets[i].Class,
			box:   dets[i].Box,
		}
		oc.nextID++
		oc.tracks = append(oc.tracks, tr)
		oc.counts[tr.class]++
		oc.total++
		dets[i].ID = tr.id
	}

	// age out tracks that missed too many frames
	kept := oc.tracks[:0]
	for j, tr := range oc.tracks {
		if j < len(matched) && !matched[j] {
			tr.misses++
		}
		if tr.misses <= oc.maxMisses {
			kept = append(kept, tr)
		}
	}
	oc.tracks = kept

	return dets
}

// Total returns the number of distinct objects seen so far.
func (oc *ObjectCounter) Total() int { return oc.total }

// Counts returns per-class distinct object counts.
func (oc *ObjectCounter) Counts() map[string]int {
	out := make(map[string]int, len(oc.counts))
	for k, v := range oc.counts {
		out[k] = v
	}
	return out
}
