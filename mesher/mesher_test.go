package mesher

import (
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/opal-ai/Kimera-VIO-opal/queue"
	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

func newTestMesher(t *testing.T) (*Mesher, *queue.Queue[vio.FrontendOutput]) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	features := queue.New[vio.FrontendOutput]("mesher_features", logger)
	return New(features, logger), features
}

func estimate(frameID int64, ts vio.Timestamp) vio.BackendOutput {
	return vio.BackendOutput{Timestamp: ts, FrameID: frameID, State: vio.NewZeroNavState()}
}

func featurePayload(frameID int64, ts vio.Timestamp, tracked int) vio.FrontendOutput {
	return vio.FrontendOutput{Timestamp: ts, FrameID: frameID, TrackedFeatures: tracked}
}

func TestProcessBuildsMesh(t *testing.T) {
	m, features := newTestMesher(t)
	features.Push(featurePayload(0, 100, 10))

	out, ok, err := m.Process(estimate(0, 100))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, out.FrameID, test.ShouldEqual, int64(0))
	test.That(t, out.Vertices, test.ShouldHaveLength, 10)
	test.That(t, out.Triangles, test.ShouldHaveLength, 8)
}

func TestProcessCapsVertexCount(t *testing.T) {
	m, features := newTestMesher(t)
	features.Push(featurePayload(0, 100, 500))

	out, ok, err := m.Process(estimate(0, 100))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, out.Vertices, test.ShouldHaveLength, maxVertices)
}

func TestProcessTooFewFeatures(t *testing.T) {
	m, features := newTestMesher(t)
	features.Push(featurePayload(0, 100, 2))

	_, ok, err := m.Process(estimate(0, 100))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestProcessMissingFeaturePayload(t *testing.T) {
	m, _ := newTestMesher(t)
	_, ok, err := m.Process(estimate(7, 100))
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "frame 7")
}

func TestProcessPairsAcrossBufferedFrames(t *testing.T) {
	// The feature branch can run several frames ahead of the backend.
	m, features := newTestMesher(t)
	for i := int64(0); i < 5; i++ {
		features.Push(featurePayload(i, vio.Timestamp(100*(i+1)), 12))
	}

	out, ok, err := m.Process(estimate(3, 400))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, out.FrameID, test.ShouldEqual, int64(3))

	// Frames at or before 3 are pruned; frame 4 still pairs.
	_, ok, err = m.Process(estimate(2, 300))
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, err, test.ShouldNotBeNil)

	out, ok, err = m.Process(estimate(4, 500))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, out.FrameID, test.ShouldEqual, int64(4))
}
