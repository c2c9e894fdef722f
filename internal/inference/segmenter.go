package inference

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/fruitvision/vision-server/internal/frame"
	"github.com/fruitvision/vision-server/internal/logger"
	"github.com/fruitvision/vision-server/pkg/types"
)

const (
	segNumCoeffs = 32
	segProtoSize = 160
	maskThr      = 0.5
)

// segSession extends a pooled session with the prototype output tensor that
// segmentation models emit alongside the box predictions.
type segSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	boxes   *ort.Tensor[float32]
	protos  *ort.Tensor[float32]
}

func (s *segSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.boxes != nil {
		s.boxes.Destroy()
	}
	if s.protos != nil {
		s.protos.Destroy()
	}
}

func newSegSession(modelPath string, gpuDevice int) (*segSession, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detectInputSize, detectInputSize))
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	boxes, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 4+int64(len(cocoLabels))+segNumCoeffs, detectNumBoxes))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("creating box output tensor: %w", err)
	}
	protos, err := ort.NewEmptyTensor[float32](ort.NewShape(1, segNumCoeffs, segProtoSize, segProtoSize))
	if err != nil {
		input.Destroy()
		boxes.Destroy()
		return nil, fmt.Errorf("creating prototype tensor: %w", err)
	}

	opts, err := sessionOptions(gpuDevice)
	if err != nil {
		input.Destroy()
		boxes.Destroy()
		protos.Destroy()
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"}, []string{"output0", "output1"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{boxes, protos}, opts)
	if err != nil {
		input.Destroy()
		boxes.Destroy()
		protos.Destroy()
		return nil, fmt.Errorf("creating session for %s: %w", modelPath, err)
	}

	return &segSession{session: session, input: input, boxes: boxes, protos: protos}, nil
}

// MaskSegmenter runs a yolo11 segmentation model. Session pooling mirrors
// YOLODetector.
type MaskSegmenter struct {
	pool    chan *segSession
	confThr float32
	iouThr  float32
}

func NewMaskSegmenter(modelPath string, poolSize int, confThr, iouThr float32, gpuDevice int) (*MaskSegmenter, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	s := &MaskSegmenter{
		pool:    make(chan *segSession, poolSize),
		confThr: confThr,
		iouThr:  iouThr,
	}
	for i := 0; i < poolSize; i++ {
		ss, err := newSegSession(modelPath, gpuDevice)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := ss.session.Run(); err != nil {
			ss.destroy()
			s.Close()
			return nil, fmt.Errorf("warm-up inference: %w", err)
		}
		s.pool <- ss
	}
	logger.Info("segmenter", "loaded %s (%d sessions)", modelPath, poolSize)
	return s, nil
}

// Segment runs one inference and returns per-instance masks encoded as
// base64 PNGs sized to each instance's bounding box.
func (s *MaskSegmenter) Segment(f *frame.Frame) ([]types.Mask, error) {
	ss := <-s.pool
	defer func() { s.pool <- ss }()

	copy(ss.input.GetData(), prepareInput(f.Image, detectInputSize))
	if err := ss.session.Run(); err != nil {
		return nil, inferenceError(err)
	}

	cands := decodePredictions(ss.boxes.GetData(), len(cocoLabels), segNumCoeffs,
		detectNumBoxes, detectInputSize, s.confThr, f.Width, f.Height)
	cands = nonMaxSuppression(cands, s.iouThr)

	protos := ss.protos.GetData()
	masks := make([]types.Mask, 0, len(cands))
	for i, c := range cands {
		img, area := buildMask(c, protos)
		encoded, err := encodeMaskPNG(img)
		if err != nil {
			return nil, inferenceError(err)
		}
		label := "unknown"
		if c.classID >= 0 && c.classID < len(cocoLabels) {
			label = cocoLabels[c.classID]
		}
		masks = append(masks, types.Mask{
			ID:         i,
			Class:      label,
			Confidence: float64(c.score),
			BBox:       c.box.Array(),
			Mask:       encoded,
			Area:       area,
		})
	}
	return masks, nil
}

func (s *MaskSegmenter) Close() {
	for {
		select {
		case ss := <-s.pool:
			ss.destroy()
		default:
			return
		}
	}
}

// buildMask combines a candidate's coefficients with the prototype masks,
// crops the result to the candidate's box in prototype space and upscales it
// to the box size in source-image space. Returns a binary grayscale image and
// the number of mask pixels.
func buildMask(c candidate, protos []float32) (*image.Gray, int) {
	// prototype space is detectInputSize/4 on each axis
	protoScale := float64(segProtoSize) / float64(detectInputSize)
	px1 := int(clamp(c.rawBox.X1*protoScale, 0, segProtoSize-1))
	py1 := int(clamp(c.rawBox.Y1*protoScale, 0, segProtoSize-1))
	px2 := int(clamp(c.rawBox.X2*protoScale, 1, segProtoSize))
	py2 := int(clamp(c.rawBox.Y2*protoScale, 1, segProtoSize))
	if px2 <= px1 {
		px2 = px1 + 1
	}
	if py2 <= py1 {
		py2 = py1 + 1
	}

	crop := image.NewGray(image.Rect(0, 0, px2-px1, py2-py1))
	for y := py1; y < py2; y++ {
		for x := px1; x < px2; x++ {
			var v float32
			for k := 0; k < segNumCoeffs; k++ {
				v += c.coeffs[k] * protos[k*segProtoSize*segProtoSize+y*segProtoSize+x]
			}
			if sigmoid(v) > maskThr {
				crop.SetGray(x-px1, y-py1, color.Gray{Y: 255})
			}
		}
	}

	boxW := int(math.Round(c.box.Width()))
	boxH := int(math.Round(c.box.Height()))
	if boxW < 1 {
		boxW = 1
	}
	if boxH < 1 {
		boxH = 1
	}
	scaled := imaging.Resize(crop, boxW, boxH, imaging.NearestNeighbor)

	out := image.NewGray(image.Rect(0, 0, boxW, boxH))
	area := 0
	for y := 0; y < boxH; y++ {
		for x := 0; x < boxW; x++ {
			r, _, _, _ := scaled.At(x, y).RGBA()
			if r >= 0x8000 {
				out.SetGray(x, y, color.Gray{Y: 255})
				area++
			}
		}
	}
	return out, area
}

func encodeMaskPNG(img *image.Gray) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding mask: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func sigmoid(v float32) float64 {
	return 1 / (1 + math.Exp(-float64(v)))
}
