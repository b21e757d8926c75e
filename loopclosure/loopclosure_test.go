package loopclosure

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"

	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

func keyframeAt(frameID int64, pos r3.Vector) vio.BackendOutput {
	state := vio.NewZeroNavState()
	state.Pose = spatialmath.NewPoseFromPoint(pos)
	return vio.BackendOutput{
		Timestamp:  vio.Timestamp(frameID * 100),
		FrameID:    frameID,
		IsKeyframe: true,
		State:      state,
	}
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	return New(Params{Radius: 0.5, MinFrameGap: 20}, golog.NewTestLogger(t))
}

func TestIgnoresNonKeyframes(t *testing.T) {
	d := newTestDetector(t)
	in := keyframeAt(0, r3.Vector{})
	in.IsKeyframe = false
	_, ok, err := d.Process(in)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	// A later revisit of the same spot finds no history entry for it.
	_, ok, err = d.Process(keyframeAt(30, r3.Vector{}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDetectsRevisit(t *testing.T) {
	d := newTestDetector(t)
	_, ok, err := d.Process(keyframeAt(0, r3.Vector{}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	out, ok, err := d.Process(keyframeAt(25, r3.Vector{X: 0.1}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, out.QueryFrameID, test.ShouldEqual, int64(25))
	test.That(t, out.MatchFrameID, test.ShouldEqual, int64(0))
	test.That(t, out.RelativePose.Point().X, test.ShouldAlmostEqual, 0.1, 1e-12)
}

func TestFrameGapGuard(t *testing.T) {
	d := newTestDetector(t)
	d.Process(keyframeAt(0, r3.Vector{}))

	// Same spot, but too recent to count as a revisit.
	_, ok, err := d.Process(keyframeAt(10, r3.Vector{}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestRadiusGuard(t *testing.T) {
	d := newTestDetector(t)
	d.Process(keyframeAt(0, r3.Vector{}))

	_, ok, err := d.Process(keyframeAt(25, r3.Vector{X: 2}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestMatchesEarliestKeyframe(t *testing.T) {
	d := newTestDetector(t)
	d.Process(keyframeAt(0, r3.Vector{}))
	d.Process(keyframeAt(5, r3.Vector{X: 0.05}))

	out, ok, err := d.Process(keyframeAt(30, r3.Vector{}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, out.MatchFrameID, test.ShouldEqual, int64(0))
}

func TestResetDiscardsHistory(t *testing.T) {
	d := newTestDetector(t)
	d.Process(keyframeAt(0, r3.Vector{}))
	d.Reset()

	_, ok, err := d.Process(keyframeAt(25, r3.Vector{}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}
