package vio

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// ImuBias is the additive bias estimate for both inertial sensors.
type ImuBias struct {
	Accelerometer r3.Vector
	Gyroscope     r3.Vector
}

// NavState is the navigation state at a given time: pose of the body frame
// in the world frame, world-frame velocity, and the inertial bias estimate.
// It is produced once by the initializer and thereafter owned and mutated
// exclusively by the backend; every other consumer receives a snapshot.
type NavState struct {
	Pose     spatialmath.Pose
	Velocity r3.Vector
	Bias     ImuBias
}

// NewZeroNavState returns a NavState at the world origin with zero velocity
// and zero bias.
func NewZeroNavState() NavState {
	return NavState{Pose: spatialmath.NewZeroPose()}
}

// AlmostEqual reports whether two states agree to within tol on position,
// velocity, and bias, and have nearly coincident orientations.
func (n NavState) AlmostEqual(other NavState, tol float64) bool {
	if n.Pose == nil || other.Pose == nil {
		return n.Pose == other.Pose
	}
	if n.Pose.Point().Distance(other.Pose.Point()) > tol {
		return false
	}
	if !spatialmath.OrientationAlmostEqualEps(n.Pose.Orientation(), other.Pose.Orientation(), tol) {
		return false
	}
	return n.Velocity.Sub(other.Velocity).Norm() <= tol &&
		n.Bias.Accelerometer.Sub(other.Bias.Accelerometer).Norm() <= tol &&
		n.Bias.Gyroscope.Sub(other.Bias.Gyroscope).Norm() <= tol
}

// GroundTruthProvider is an optional external source of reference states,
// queried by the ground-truth bootstrapping strategy. Absence of a state for
// a requested timestamp is a normal, handled condition signalled with
// ErrNoGroundTruth.
type GroundTruthProvider interface {
	NavStateAt(ts Timestamp) (NavState, error)
}

// ErrNoGroundTruth is returned by a GroundTruthProvider when no reference
// state exists for the requested timestamp.
var ErrNoGroundTruth = errors.New("no ground truth state for requested timestamp")
