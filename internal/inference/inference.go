// Package inference wraps the ONNX-backed detection and segmentation models
// behind two blocking operations: detect and segment. The hard work happens
// inside the models; this package only prepares tensors, runs sessions, and
// decodes raw outputs.
package inference

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/fruitvision/vision-server/internal/frame"
	"github.com/fruitvision/vision-server/pkg/types"
)

// ErrInference marks any failure of an underlying model. The facade does not
// interpret or recover from these; they carry the library's message.
var ErrInference = errors.New("inference failed")

// ErrResourceExhausted is the out-of-memory variant of ErrInference.
// errors.Is(err, ErrInference) holds for it as well.
var ErrResourceExhausted = fmt.Errorf("%w: resource exhausted", ErrInference)

// inferenceError wraps a model error, classifying allocation failures.
func inferenceError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "memory") || strings.Contains(msg, "alloc") {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	return fmt.Errorf("%w: %v", ErrInference, err)
}

// Detector produces object detections for a decoded frame. Implementations
// are safe for concurrent use and block until the model returns.
type Detector interface {
	Detect(f *frame.Frame) ([]types.Detection, error)
}

// Segmenter produces per-object masks for a decoded frame.
type Segmenter interface {
	Segment(f *frame.Frame) ([]types.Mask, error)
}

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime loads the onnxruntime shared library and initializes the
// environment. Called once before any session is created; subsequent calls
// return the first result.
func InitRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		if libPath == "" {
			libPath = defaultSharedLibPath()
		}
		ort.SetSharedLibraryPath(libPath)
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// defaultSharedLibPath returns the bundled onnxruntime library for the
// current platform.
func defaultSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.dylib"
		}
		return "./third_party/onnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// sessionOptions builds common session options: single-threaded sessions
// (the pool provides parallelism) and the CUDA provider when gpuDevice >= 0.
func sessionOptions(gpuDevice int) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		opts.Destroy()
		return nil, err
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		opts.Destroy()
		return nil, err
	}
	if gpuDevice >= 0 {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, err
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": fmt.Sprint(gpuDevice)}); err != nil {
			opts.Destroy()
			return nil, err
		}
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			opts.Destroy()
			return nil, err
		}
	}
	return opts, nil
}
