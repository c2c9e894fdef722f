package video

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fruitvision/vision-server/internal/logger"
)

// Writer appends JPEG-encoded frames to a timestamped .mjpeg file and keeps
// frame and byte accounting.
type Writer struct {
	file         *os.File
	path         string
	frameCount   int
	bytesWritten int64
}

// NewWriter creates outputDir if needed and opens a new output file named
// after the current time.
func NewWriter(outputDir string) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(outputDir, fmt.Sprintf("processed_%s.mjpeg", time.Now().Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	return &Writer{file: f, path: path}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteFrame encodes img as JPEG and appends it to the stream.
func (w *Writer) WriteFrame(img image.Image) error {
	cw := &countingWriter{w: w.file}
	if err := jpeg.Encode(cw, img, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("encoding output frame: %w", err)
	}
	w.frameCount++
	w.bytesWritten += cw.n
	return nil
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// FrameCount returns the number of frames written so far.
func (w *Writer) FrameCount() int { return w.frameCount }

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	err := w.file.Close()
	logger.Info("video", "wrote %s (%d frames, %d bytes)", w.path, w.frameCount, w.bytesWritten)
	return err
}
