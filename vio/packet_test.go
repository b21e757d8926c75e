package vio

import (
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testImage() Image {
	return Image{Width: 2, Height: 2, Data: []byte{1, 2, 3, 4}}
}

func TestNewSyncPacket(t *testing.T) {
	imu := []ImuSample{
		{Timestamp: 10, LinearAcceleration: r3.Vector{Z: 9.81}},
		{Timestamp: 20, LinearAcceleration: r3.Vector{Z: 9.81}},
	}
	packet, err := NewSyncPacket(30, testImage(), testImage(), imu)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, packet.Timestamp, test.ShouldEqual, Timestamp(30))
	test.That(t, packet.Imu, test.ShouldHaveLength, 2)
}

func TestNewSyncPacketRejectsMissingFrame(t *testing.T) {
	_, err := NewSyncPacket(30, testImage(), Image{}, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "stereo")
}

func TestNewSyncPacketRejectsFutureImu(t *testing.T) {
	imu := []ImuSample{{Timestamp: 50}}
	_, err := NewSyncPacket(30, testImage(), testImage(), imu)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "postdates")
}

func TestNewSyncPacketRejectsOutOfOrderImu(t *testing.T) {
	imu := []ImuSample{{Timestamp: 20}, {Timestamp: 10}}
	_, err := NewSyncPacket(30, testImage(), testImage(), imu)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of order")
}

func TestTimestampSeconds(t *testing.T) {
	a := TimestampFromTime(time.Unix(10, 0))
	b := TimestampFromTime(time.Unix(12, 500_000_000))
	test.That(t, b.Seconds(a), test.ShouldAlmostEqual, 2.5)
}

func TestNavStateAlmostEqual(t *testing.T) {
	a := NewZeroNavState()
	b := NewZeroNavState()
	test.That(t, a.AlmostEqual(b, 1e-9), test.ShouldBeTrue)

	b.Velocity = r3.Vector{X: 0.5}
	test.That(t, a.AlmostEqual(b, 1e-9), test.ShouldBeFalse)
	test.That(t, a.AlmostEqual(b, 1.0), test.ShouldBeTrue)
}
