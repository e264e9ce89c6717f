package detect

import (
	"context"
	"image"
	"log/slog"
	"time"
)

// Orchestrator arbitrates between the primary and fallback detectors
// per the session policy: primary on every frame; when it finds
// nothing, the fallback runs on at most one frame per throttle window.
// Detector failures are absorbed as empty results so a flaky model
// never takes the session down.
type Orchestrator struct {
	primary  Detector
	fallback Detector
	throttle *ThrottleWindow
	now      func() time.Time
	logger   *slog.Logger
}

func NewOrchestrator(primary, fallback Detector, minInterval time.Duration, now func() time.Time, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		primary:  primary,
		fallback: fallback,
		throttle: NewThrottleWindow(minInterval, now),
		now:      now,
		logger:   logger,
	}
}

// Detect runs the policy on one frame and always returns an Event, even
// when both detectors fail.
func (o *Orchestrator) Detect(ctx context.Context, img image.Image, capturedAt time.Time) Event {
	start := o.now()

	var obs []Observation
	if o.primary != nil {
		var err error
		obs, err = o.primary.Detect(ctx, img)
		if err != nil {
			o.logger.Warn("primary detector failed", "error", err)
			obs = nil
		}
	}
	if len(obs) > 0 {
		return Event{Source: SourcePrimary, Observations: obs, CapturedAt: capturedAt, Elapsed: o.now().Sub(start)}
	}

	if o.fallback == nil || !o.throttle.Allow() {
		return Event{Source: SourceNone, CapturedAt: capturedAt, Elapsed: o.now().Sub(start)}
	}
	o.throttle.Mark()

	fobs, err := o.fallback.Detect(ctx, img)
	if err != nil {
		o.logger.Warn("fallback detector failed", "error", err)
		fobs = nil
	}
	return Event{Source: SourceFallback, Observations: fobs, CapturedAt: capturedAt, Elapsed: o.now().Sub(start)}
}
