// Package vio defines the value types exchanged between the pipeline's stages:
// synchronized stereo/inertial input packets, navigation states, and the
// per-stage output payloads. Everything in this package is treated as
// immutable once it has been handed to the pipeline.
package vio

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Timestamp is a capture time in nanoseconds since the unix epoch.
type Timestamp int64

// TimestampFromTime converts a time.Time to a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// Seconds returns the elapsed seconds between two timestamps.
func (t Timestamp) Seconds(since Timestamp) float64 {
	return float64(t-since) / float64(time.Second)
}

// ImuSample is one inertial measurement: specific force from the
// accelerometer in m/s^2 and angular rate from the gyroscope in rad/s,
// both expressed in the body frame.
type ImuSample struct {
	Timestamp          Timestamp
	LinearAcceleration r3.Vector
	AngularVelocity    r3.Vector
}

// Image is an encoded camera frame. The pixel payload is opaque to the
// pipeline core; only the frontend interprets it.
type Image struct {
	Width  int
	Height int
	Data   []byte
}

// SyncPacket is one timestamped bundle of synchronized stereo imagery plus
// the inertial samples accumulated since the previous packet. Ownership
// transfers into the pipeline on submission; the producer must not retain
// or mutate it afterwards.
type SyncPacket struct {
	Timestamp Timestamp
	Left      Image
	Right     Image
	Imu       []ImuSample
}

// NewSyncPacket validates and bundles one input unit. The inertial samples
// must be in nondecreasing time order and must not postdate the frame
// capture time.
func NewSyncPacket(ts Timestamp, left, right Image, imu []ImuSample) (*SyncPacket, error) {
	if len(left.Data) == 0 || len(right.Data) == 0 {
		return nil, errors.New("sync packet requires both stereo frames")
	}
	for i, sample := range imu {
		if sample.Timestamp > ts {
			return nil, errors.Errorf("imu sample %d at %d postdates frame capture at %d", i, sample.Timestamp, ts)
		}
		if i > 0 && sample.Timestamp < imu[i-1].Timestamp {
			return nil, errors.Errorf("imu sample %d at %d is out of order", i, sample.Timestamp)
		}
	}
	return &SyncPacket{Timestamp: ts, Left: left, Right: right, Imu: imu}, nil
}
