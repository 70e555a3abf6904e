package imageprocessor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/facemask/internal/logging"
)

// Input is the raw material of one crop job.
type Input struct {
	// SkipArtificialDelay disables the simulated processing workload.
	SkipArtificialDelay bool
	// Landmarks is the JSON landmarks document ({"landmarks": [...], "dimensions": [w, h]}).
	Landmarks []byte
	// ImageBase64 is the Base64 text of the source image.
	ImageBase64 []byte
}

// MaskDescriptor describes one facial region mask.
type MaskDescriptor struct {
	Name   string       `json:"name"`
	PathD  string       `json:"path_d"`
	Points [][2]float64 `json:"points"`
}

// Result is the outcome of a transformation.
type Result struct {
	SVGBase64    string
	MaskContours []MaskDescriptor
	// Crop reports the crop stage outcome, including an absorbed error when the
	// stage fell back to the uncropped input.
	Crop CropResult
}

// Client exposes the subset of functionality used by the job worker.
type Client interface {
	Process(ctx context.Context, jobID string, in Input) (*Result, error)
}

// LocalClient runs the transformation in-process.
type LocalClient struct {
	logger *zap.Logger
}

// NewLocalClient constructs an in-process client.
func NewLocalClient(logger *zap.Logger) *LocalClient {
	return &LocalClient{logger: logger.Named("imageprocessor")}
}

type outcome struct {
	result *Result
	err    error
}

// Process runs Transform and races it against ctx. A transformation that outlives
// ctx keeps running to completion in the background and its result is dropped.
func (c *LocalClient) Process(ctx context.Context, jobID string, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, logging.NewOperationError("imageprocessor.process", jobID, err)
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("transform panicked: %v", r)}
			}
		}()
		res, err := Transform(in)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			wrapped := logging.NewOperationError("imageprocessor.transform", jobID, o.err)
			c.logger.Error("transformation failed", zap.Error(wrapped))
			return nil, wrapped
		}
		return o.result, nil
	case <-ctx.Done():
		wrapped := logging.NewOperationError("imageprocessor.process", jobID, ctx.Err())
		c.logger.Warn("transformation abandoned", zap.Error(wrapped))
		return nil, wrapped
	}
}
