// Package loopclosure implements the loop-closure detection stage. Detection
// is by keyframe pose proximity: when a new keyframe lands close to a
// sufficiently old one, the stage emits a pose-graph correction event with
// the relative pose between the two. Corrections flow outward to the
// registered callback only, never back into the backend.
package loopclosure

import (
	"github.com/edaniels/golog"
	"go.viam.com/rdk/spatialmath"

	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

// Params configures detection.
type Params struct {
	// Radius is the maximum distance in meters between two keyframe
	// positions for them to be considered a revisit.
	Radius float64
	// MinFrameGap is the minimum frame-ID separation between a query
	// keyframe and a match, so adjacent keyframes never match each other.
	MinFrameGap int64
}

type keyframe struct {
	frameID int64
	pose    spatialmath.Pose
}

// Detector keeps the keyframe history for the current bootstrap epoch.
// It runs on a single stage thread, so the history is unguarded; Reset is
// only called by the orchestrator while the stage is gated off.
type Detector struct {
	params  Params
	logger  golog.Logger
	history []keyframe
}

// New returns an empty detector.
func New(params Params, logger golog.Logger) *Detector {
	return &Detector{params: params, logger: logger}
}

// Name implements stage.Processor.
func (d *Detector) Name() string { return "loop_closure" }

// Reset discards the keyframe history. Called on re-initialization: poses
// from the previous epoch are not comparable to the new trajectory.
func (d *Detector) Reset() {
	d.history = d.history[:0]
}

// Process checks one estimate against the keyframe history. Non-keyframe
// estimates and keyframes with no match produce no output.
func (d *Detector) Process(in vio.BackendOutput) (vio.LcdOutput, bool, error) {
	if !in.IsKeyframe {
		return vio.LcdOutput{}, false, nil
	}
	query := keyframe{frameID: in.FrameID, pose: in.State.Pose}
	defer func() { d.history = append(d.history, query) }()

	point := query.pose.Point()
	for _, kf := range d.history {
		if query.frameID-kf.frameID < d.params.MinFrameGap {
			continue
		}
		if point.Distance(kf.pose.Point()) > d.params.Radius {
			continue
		}
		d.logger.Debugw("loop closure detected", "query", query.frameID, "match", kf.frameID)
		return vio.LcdOutput{
			Timestamp:    in.Timestamp,
			QueryFrameID: query.frameID,
			MatchFrameID: kf.frameID,
			RelativePose: spatialmath.PoseBetween(kf.pose, query.pose),
		}, true, nil
	}
	return vio.LcdOutput{}, false, nil
}
