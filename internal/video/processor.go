package video

import (
	"fmt"
	"io"

	"github.com/fruitvision/vision-server/internal/inference"
	"github.com/fruitvision/vision-server/internal/logger"
)

// Summary is the result of processing one video stream.
type Summary struct {
	OutputFile      string
	TotalFrames     int
	TotalDetections int
	FPS             float64
	Resolution      [2]int
}

// Processor runs detection (and optionally segmentation) over every frame of
// a Motion-JPEG stream and writes an annotated copy.
type Processor struct {
	detector  inference.Detector
	segmenter inference.Segmenter
}

// NewProcessor creates a processor. segmenter may be nil when the
// segmentation model is not loaded.
func NewProcessor(detector inference.Detector, segmenter inference.Segmenter) *Processor {
	return &Processor{
		detector:  detector,
		segmenter: segmenter,
	}
}

// Process reads frames from r until EOF, counting distinct objects across
// frames, and writes annotated frames to a new file under outputDir. fps is
// carried through to the summary; resolution comes from the first frame.
func (p *Processor) Process(r io.Reader, outputDir string, fps float64, enableSegmentation bool) (*Summary, error) {
	if enableSegmentation && p.segmenter == nil {
		return nil, fmt.Errorf("segmentation requested but no segmentation model loaded")
	}
	if fps <= 0 {
		fps = 30
	}

	writer, err := NewWriter(outputDir)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	reader := NewReader(r)
	counter := inference.NewObjectCounter()
	summary := &Summary{FPS: fps, OutputFile: writer.Path()}

	for {
		f, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if summary.TotalFrames == 0 {
			summary.Resolution = [2]int{f.Width, f.Height}
		}

		dets, err := p.detector.Detect(f)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", summary.TotalFrames, err)
		}
		dets = counter.Update(dets)

		if enableSegmentation {
			if _, err := p.segmenter.Segment(f); err != nil {
				return nil, fmt.Errorf("frame %d: %w", summary.TotalFrames, err)
			}
		}

		if err := writer.WriteFrame(annotate(f.Image, dets)); err != nil {
			return nil, err
		}
		summary.TotalFrames++
	}

	if summary.TotalFrames == 0 {
		return nil, ErrNoFrames
	}
	summary.TotalDetections = counter.Total()
	logger.Info("video", "processed %d frames, %d distinct objects", summary.TotalFrames, summary.TotalDetections)
	return summary, nil
}
