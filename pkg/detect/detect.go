// Package detect implements ingredient detection for live cooking
// sessions: a primary local-model detector, a throttled vision-model
// fallback, and the orchestrator that arbitrates between them.
package detect

import (
	"context"
	"image"
	"time"
)

// Source identifies which detector produced an observation.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"

	// SourceNone marks an empty event where the fallback was skipped:
	// the primary found nothing and the throttle window was closed (or
	// no fallback is configured).
	SourceNone Source = "none"
)

// Box is a bounding box in pixel coordinates of the analyzed frame.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Observation is one detected ingredient.
type Observation struct {
	Label      string
	Confidence float64
	Box        Box
}

// Event is the outcome of running detection on one frame.
type Event struct {
	Source       Source
	Observations []Observation
	CapturedAt   time.Time
	Elapsed      time.Duration
}

// Detector analyzes a single frame. Implementations must be safe for
// sequential reuse; the orchestrator never calls Detect concurrently.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Observation, error)
}
