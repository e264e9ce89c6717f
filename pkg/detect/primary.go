package detect

import (
	"context"
	"fmt"
	"image"
)

// RawDetection is one untyped hit from an inference engine: class index,
// confidence in [0,1], and box corners (x1, y1, x2, y2).
type RawDetection struct {
	Class      int        `json:"class"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// Engine runs model inference on a frame. The model runtime stays a
// collaborator behind this interface; the production implementation is
// WorkerEngine, tests use stubs.
type Engine interface {
	Infer(ctx context.Context, img image.Image) ([]RawDetection, error)
	Close() error
}

// Primary is the first-line detector: a local model whose hits are
// filtered by a confidence threshold and mapped through the label list.
type Primary struct {
	engine    Engine
	labels    map[int]string
	threshold float64
}

func NewPrimary(engine Engine, labels map[int]string, threshold float64) *Primary {
	return &Primary{engine: engine, labels: labels, threshold: threshold}
}

func (p *Primary) Detect(ctx context.Context, img image.Image) ([]Observation, error) {
	raw, err := p.engine.Infer(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect: primary inference: %w", err)
	}
	var out []Observation
	for _, d := range raw {
		if d.Confidence < p.threshold {
			continue
		}
		label, ok := p.labels[d.Class]
		if !ok {
			label = fmt.Sprintf("class_%d", d.Class)
		}
		out = append(out, Observation{
			Label:      label,
			Confidence: d.Confidence,
			Box:        Box{X1: d.Box[0], Y1: d.Box[1], X2: d.Box[2], Y2: d.Box[3]},
		})
	}
	return out, nil
}

func (p *Primary) Close() error {
	return p.engine.Close()
}
