package datasource

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/opal-ai/Kimera-VIO-opal/internal/testhelper"
	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

func testConfig() SyntheticConfig {
	return SyntheticConfig{
		Start:        1_000_000_000,
		PacketPeriod: 100 * time.Millisecond,
		ImuPerPacket: 10,
		Count:        3,
		Gravity:      testhelper.Gravity,
	}
}

func TestNewSyntheticValidation(t *testing.T) {
	logger := golog.NewTestLogger(t)

	cfg := testConfig()
	cfg.PacketPeriod = 0
	_, err := NewSynthetic(cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg = testConfig()
	cfg.ImuPerPacket = 0
	_, err = NewSynthetic(cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg = testConfig()
	cfg.Count = 0
	_, err = NewSynthetic(cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNextPacketStreamsUntilEOF(t *testing.T) {
	s, err := NewSynthetic(testConfig(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	var last vio.Timestamp
	for i := 0; i < 3; i++ {
		packet, err := s.NextPacket(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, packet.Timestamp, test.ShouldBeGreaterThan, last)
		test.That(t, packet.Imu, test.ShouldHaveLength, 10)
		last = packet.Timestamp
	}
	_, err = s.NextPacket(ctx)
	test.That(t, err, test.ShouldEqual, io.EOF)
}

func TestNextPacketHonorsContext(t *testing.T) {
	s, err := NewSynthetic(testConfig(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.NextPacket(ctx)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestStationaryStreamReadsGravityOnly(t *testing.T) {
	s, err := NewSynthetic(testConfig(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	packet, err := s.PacketAt(0)
	test.That(t, err, test.ShouldBeNil)
	for _, sample := range packet.Imu {
		test.That(t, sample.LinearAcceleration, test.ShouldResemble, r3.Vector{Z: 9.81})
	}
}

func TestExcitedStreamVariesForce(t *testing.T) {
	cfg := testConfig()
	cfg.AccelAmplitude = 1.5
	s, err := NewSynthetic(cfg, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	packet, err := s.PacketAt(0)
	test.That(t, err, test.ShouldBeNil)
	varies := false
	for _, sample := range packet.Imu {
		if sample.LinearAcceleration.X != 0 {
			varies = true
		}
	}
	test.That(t, varies, test.ShouldBeTrue)
}

func TestPacketAtIsDeterministic(t *testing.T) {
	s1, err := NewSynthetic(testConfig(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	s2, err := NewSynthetic(testConfig(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	a, err := s1.PacketAt(1)
	test.That(t, err, test.ShouldBeNil)
	b, err := s2.PacketAt(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldResemble, b)
}
