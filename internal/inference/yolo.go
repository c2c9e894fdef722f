package inference

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/fruitvision/vision-server/internal/frame"
	"github.com/fruitvision/vision-server/internal/logger"
	"github.com/fruitvision/vision-server/pkg/types"
)

const (
	detectInputSize = 640
	detectNumBoxes  = 8400
)

// modelSession bundles an onnxruntime session with its pre-allocated input
// and output tensors. Tensors are reused across calls, so a modelSession must
// only ever be used by one goroutine at a time.
type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (m *modelSession) destroy() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

func newDetectSession(modelPath string, gpuDevice int) (*modelSession, error) {
	inputShape := ort.NewShape(1, 3, detectInputSize, detectInputSize)
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, 4+int64(len(cocoLabels)), detectNumBoxes)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}

	opts, err := sessionOptions(gpuDevice)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"}, []string{"output0"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, opts)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("creating session for %s: %w", modelPath, err)
	}

	return &modelSession{session: session, input: input, output: output}, nil
}

// YOLODetector runs a yolo11 detection model. It keeps a fixed pool of
// sessions and hands them out over a channel, so up to poolSize inferences
// run concurrently and further callers block until a session frees up.
type YOLODetector struct {
	pool      chan *modelSession
	poolSize  int
	confThr   float32
	iouThr    float32
	modelPath string
}

// NewYOLODetector loads modelPath into poolSize sessions and runs a warm-up
// inference on each so the first real request does not pay graph
// initialization cost.
func NewYOLODetector(modelPath string, poolSize int, confThr, iouThr float32, gpuDevice int) (*YOLODetector, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	d := &YOLODetector{
		pool:      make(chan *modelSession, poolSize),
		poolSize:  poolSize,
		confThr:   confThr,
		iouThr:    iouThr,
		modelPath: modelPath,
	}
	for i := 0; i < poolSize; i++ {
		ms, err := newDetectSession(modelPath, gpuDevice)
		if err != nil {
			d.Close()
			return nil, err
		}
		if err := warmUp(ms); err != nil {
			ms.destroy()
			d.Close()
			return nil, err
		}
		d.pool <- ms
	}
	logger.Info("detector", "loaded %s (%d sessions)", modelPath, poolSize)
	return d, nil
}

// Detect runs one inference and returns detections in source-image
// coordinates, already thresholded and NMS-filtered.
func (d *YOLODetector) Detect(f *frame.Frame) ([]types.Detection, error) {
	ms := <-d.pool
	defer func() { d.pool <- ms }()

	copy(ms.input.GetData(), prepareInput(f.Image, detectInputSize))
	if err := ms.session.Run(); err != nil {
		return nil, inferenceError(err)
	}

	cands := decodePredictions(ms.output.GetData(), len(cocoLabels), 0,
		detectNumBoxes, detectInputSize, d.confThr, f.Width, f.Height)
	cands = nonMaxSuppression(cands, d.iouThr)
	return toDetections(cands, cocoLabels), nil
}

// Close destroys all pooled sessions. No Detect call may be in flight.
func (d *YOLODetector) Close() {
	for {
		select {
		case ms := <-d.pool:
			ms.destroy()
		default:
			return
		}
	}
}

// warmUp runs a single inference over the zeroed input tensor.
func warmUp(ms *modelSession) error {
	if err := ms.session.Run(); err != nil {
		return fmt.Errorf("warm-up inference: %w", err)
	}
	return nil
}
