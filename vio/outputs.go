package vio

import (
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// TrackingStatus describes the health of one frontend tracking step.
type TrackingStatus int

const (
	// TrackingValid means enough features were tracked for estimation.
	TrackingValid TrackingStatus = iota
	// TrackingFewMatches means the tracker found too few correspondences.
	TrackingFewMatches
	// TrackingLowDisparity means the stereo pair had insufficient disparity.
	TrackingLowDisparity
	// TrackingInvalid means the frontend could not process the frame at all.
	TrackingInvalid
)

func (s TrackingStatus) String() string {
	switch s {
	case TrackingValid:
		return "valid"
	case TrackingFewMatches:
		return "few_matches"
	case TrackingLowDisparity:
		return "low_disparity"
	default:
		return "invalid"
	}
}

// FrontendOutput is the frontend's per-packet measurement payload: the
// tracked-feature summary plus the packet's inertial samples, carried along
// so the backend can integrate them.
type FrontendOutput struct {
	Timestamp       Timestamp
	FrameID         int64
	IsKeyframe      bool
	Status          TrackingStatus
	TrackedFeatures int
	StereoMatches   int
	Imu             []ImuSample
}

// BackendOutput is one fused state estimate. Snapshots are immutable; the
// live NavState stays with the backend.
type BackendOutput struct {
	Timestamp  Timestamp
	FrameID    int64
	IsKeyframe bool
	State      NavState
}

// MesherOutput is one incremental mesh update.
type MesherOutput struct {
	Timestamp Timestamp
	FrameID   int64
	Vertices  []r3.Vector
	Triangles [][3]int
}

// LcdOutput is one loop-closure / pose-graph correction event: the relative
// pose between the query keyframe and the matched historical keyframe.
type LcdOutput struct {
	Timestamp    Timestamp
	QueryFrameID int64
	MatchFrameID int64
	RelativePose spatialmath.Pose
}

// VizInput is the union of upstream payloads the visualizer consumes. Exactly
// one field is non-nil per item.
type VizInput struct {
	Backend *BackendOutput
	Mesh    *MesherOutput
	Loop    *LcdOutput
}

// VizFrame is one renderable snapshot composed by the visualizer from the
// latest payload of each upstream branch.
type VizFrame struct {
	Timestamp    Timestamp
	FrameID      int64
	Pose         spatialmath.Pose
	MeshVertices int
	LoopClosures int
}
