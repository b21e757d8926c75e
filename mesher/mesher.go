// Package mesher implements the per-frame mesh reconstruction stage. It pairs
// each backend estimate with the frontend feature payload of the same frame
// and triangulates a coarse local surface around the estimated pose.
package mesher

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/opal-ai/Kimera-VIO-opal/queue"
	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

// maxVertices bounds the per-frame mesh size.
const maxVertices = 64

// Mesher consumes backend estimates on its stage queue and drains an
// auxiliary feature queue fed by the frontend branch. The frontend pushes a
// frame's feature payload to the auxiliary queue before the backend can emit
// the matching estimate, so pairing by frame ID is always possible. Both
// queues are owned by the orchestrator.
type Mesher struct {
	features *queue.Queue[vio.FrontendOutput]
	logger   golog.Logger

	pending map[int64]vio.FrontendOutput
}

// New returns a mesher reading auxiliary feature payloads from features.
func New(features *queue.Queue[vio.FrontendOutput], logger golog.Logger) *Mesher {
	return &Mesher{features: features, logger: logger, pending: make(map[int64]vio.FrontendOutput)}
}

// Name implements stage.Processor.
func (m *Mesher) Name() string { return "mesher" }

// Process builds one mesh update for a backend estimate. Frames with too few
// tracked features to triangulate yield no output.
func (m *Mesher) Process(in vio.BackendOutput) (vio.MesherOutput, bool, error) {
	for {
		fo, ok := m.features.TryPop()
		if !ok {
			break
		}
		m.pending[fo.FrameID] = fo
	}
	fo, ok := m.pending[in.FrameID]
	if !ok {
		return vio.MesherOutput{}, false, errors.Errorf("no feature payload for frame %d", in.FrameID)
	}
	// Frames at or before this estimate will never be requested again.
	for id := range m.pending {
		if id <= in.FrameID {
			delete(m.pending, id)
		}
	}

	n := fo.TrackedFeatures
	if n > maxVertices {
		n = maxVertices
	}
	if n < 3 {
		return vio.MesherOutput{}, false, nil
	}

	center := in.State.Pose.Point()
	vertices := make([]r3.Vector, 0, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		vertices = append(vertices, r3.Vector{
			X: center.X + math.Cos(theta),
			Y: center.Y + math.Sin(theta),
			Z: center.Z,
		})
	}
	triangles := make([][3]int, 0, n-2)
	for i := 1; i < n-1; i++ {
		triangles = append(triangles, [3]int{0, i, i + 1})
	}

	return vio.MesherOutput{
		Timestamp: in.Timestamp,
		FrameID:   in.FrameID,
		Vertices:  vertices,
		Triangles: triangles,
	}, true, nil
}
