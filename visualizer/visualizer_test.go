package visualizer

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

func TestBackendPayloadEmitsFrame(t *testing.T) {
	v := New(golog.NewTestLogger(t))
	est := vio.BackendOutput{Timestamp: 100, FrameID: 3, State: vio.NewZeroNavState()}

	frame, ok, err := v.Process(vio.VizInput{Backend: &est})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame.FrameID, test.ShouldEqual, int64(3))
	test.That(t, frame.Timestamp, test.ShouldEqual, vio.Timestamp(100))
	test.That(t, frame.MeshVertices, test.ShouldEqual, 0)
	test.That(t, frame.LoopClosures, test.ShouldEqual, 0)
}

func TestMeshAndLoopFoldIntoNextFrame(t *testing.T) {
	v := New(golog.NewTestLogger(t))

	mesh := vio.MesherOutput{Timestamp: 100, FrameID: 3, Vertices: make([]r3.Vector, 12)}
	_, ok, err := v.Process(vio.VizInput{Mesh: &mesh})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	loop := vio.LcdOutput{Timestamp: 100, QueryFrameID: 25, MatchFrameID: 0}
	_, ok, err = v.Process(vio.VizInput{Loop: &loop})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	est := vio.BackendOutput{Timestamp: 200, FrameID: 4, State: vio.NewZeroNavState()}
	frame, ok, err := v.Process(vio.VizInput{Backend: &est})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, frame.MeshVertices, test.ShouldEqual, 12)
	test.That(t, frame.LoopClosures, test.ShouldEqual, 1)
}

func TestEmptyInputIsError(t *testing.T) {
	v := New(golog.NewTestLogger(t))
	_, ok, err := v.Process(vio.VizInput{})
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, err, test.ShouldNotBeNil)
}
