// Package visualizer implements the display-bound stage. It consumes the
// union of backend, mesher, and loop-closure payloads and composes renderable
// frames. It is the one stage that never owns a thread: its runner is
// caller-driven, spun from whichever thread owns the display surface.
package visualizer

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

// Visualizer composes one VizFrame per backend estimate from the latest
// payload seen on each upstream branch. Mesh and loop-closure payloads only
// update that state; they yield no frame of their own, since sibling-branch
// timing is unordered.
type Visualizer struct {
	logger golog.Logger

	latestMesh   *vio.MesherOutput
	loopClosures int
}

// New returns an empty compositor.
func New(logger golog.Logger) *Visualizer {
	return &Visualizer{logger: logger}
}

// Name implements stage.Processor.
func (v *Visualizer) Name() string { return "visualizer" }

// Process folds one upstream payload into the composition state.
func (v *Visualizer) Process(in vio.VizInput) (vio.VizFrame, bool, error) {
	switch {
	case in.Backend != nil:
		frame := vio.VizFrame{
			Timestamp:    in.Backend.Timestamp,
			FrameID:      in.Backend.FrameID,
			Pose:         in.Backend.State.Pose,
			LoopClosures: v.loopClosures,
		}
		if v.latestMesh != nil {
			frame.MeshVertices = len(v.latestMesh.Vertices)
		}
		return frame, true, nil
	case in.Mesh != nil:
		v.latestMesh = in.Mesh
		return vio.VizFrame{}, false, nil
	case in.Loop != nil:
		v.loopClosures++
		return vio.VizFrame{}, false, nil
	default:
		return vio.VizFrame{}, false, errors.New("empty visualizer input")
	}
}
