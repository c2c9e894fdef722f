package api

import (
	"github.com/fruitvision/vision-server/pkg/types"
)

type healthResponse struct {
	Status          string `json:"status"`
	DetectorLoaded  bool   `json:"detector_loaded"`
	SegmenterLoaded bool   `json:"segmenter_loaded"`
}

type detectionResponse struct {
	Success          bool              `json:"success"`
	Detections       []types.Detection `json:"detections"`
	ImageShape       [2]int            `json:"image_shape"`
	ProcessingTimeMs float64           `json:"processing_time_ms"`
}

type segmentationResponse struct {
	Success          bool         `json:"success"`
	Masks            []types.Mask `json:"masks"`
	NumObjects       int          `json:"num_objects"`
	ProcessingTimeMs float64      `json:"processing_time_ms"`
}

type videoResponse struct {
	Success         bool    `json:"success"`
	OutputFile      string  `json:"output_file"`
	TotalFrames     int     `json:"total_frames"`
	TotalDetections int     `json:"total_detections"`
	FPS             float64 `json:"fps"`
	Resolution      [2]int  `json:"resolution"`
}
