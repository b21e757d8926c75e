// Package datasource provides producers of synchronized stereo/inertial
// packets. The pipeline core only sees the pull boundary: one packet per
// call, io.EOF at end of stream.
package datasource

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

// SyntheticConfig shapes a generated packet stream.
type SyntheticConfig struct {
	// Start is the capture time of the first packet.
	Start vio.Timestamp
	// PacketPeriod is the time between consecutive packets.
	PacketPeriod time.Duration
	// ImuPerPacket is the number of inertial samples accumulated per packet.
	ImuPerPacket int
	// Count is the stream length; NextPacket returns io.EOF afterwards.
	Count int
	// Gravity is the world-frame gravity vector the virtual accelerometer
	// measures against.
	Gravity r3.Vector
	// AccelAmplitude excites the virtual platform with a sinusoidal
	// acceleration along X in m/s^2. Zero produces a stationary stream.
	AccelAmplitude float64
}

// Synthetic deterministically generates a packet stream for replay runs and
// tests: level platform, constant image texture per frame, gravity-only
// accelerometer plus an optional sinusoidal excitation.
type Synthetic struct {
	cfg    SyntheticConfig
	logger golog.Logger
	next   int
}

// NewSynthetic validates the config and returns a generator.
func NewSynthetic(cfg SyntheticConfig, logger golog.Logger) (*Synthetic, error) {
	if cfg.PacketPeriod <= 0 {
		return nil, errors.New("packet period must be positive")
	}
	if cfg.ImuPerPacket < 1 {
		return nil, errors.Errorf("need at least one imu sample per packet, got %d", cfg.ImuPerPacket)
	}
	if cfg.Count < 1 {
		return nil, errors.Errorf("stream must hold at least one packet, got %d", cfg.Count)
	}
	return &Synthetic{cfg: cfg, logger: logger}, nil
}

// NextPacket implements the pipeline's Source boundary.
func (s *Synthetic) NextPacket(ctx context.Context) (*vio.SyncPacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= s.cfg.Count {
		return nil, io.EOF
	}
	i := s.next
	s.next++
	return s.PacketAt(i)
}

// PacketAt builds the ith packet of the stream. Exposed so offline replay
// can index the stream directly.
func (s *Synthetic) PacketAt(i int) (*vio.SyncPacket, error) {
	ts := s.cfg.Start + vio.Timestamp(time.Duration(i+1)*s.cfg.PacketPeriod)
	prev := s.cfg.Start + vio.Timestamp(time.Duration(i)*s.cfg.PacketPeriod)

	imu := make([]vio.ImuSample, 0, s.cfg.ImuPerPacket)
	step := (ts - prev) / vio.Timestamp(s.cfg.ImuPerPacket)
	for k := 1; k <= s.cfg.ImuPerPacket; k++ {
		sampleTs := prev + vio.Timestamp(k)*step
		// A perfect accelerometer at rest reads the negated gravity vector.
		force := s.cfg.Gravity.Mul(-1)
		if s.cfg.AccelAmplitude != 0 {
			t := sampleTs.Seconds(s.cfg.Start)
			force.X += s.cfg.AccelAmplitude * math.Sin(2*math.Pi*t)
		}
		imu = append(imu, vio.ImuSample{Timestamp: sampleTs, LinearAcceleration: force})
	}

	return vio.NewSyncPacket(ts, frameImage(i, 0), frameImage(i, 1), imu)
}

// frameImage fills a small deterministic texture, distinct per frame and per
// eye so the tracker sees disparity.
func frameImage(i, eye int) vio.Image {
	const w, h = 32, 24
	data := make([]byte, w*h)
	for px := range data {
		data[px] = byte((px*(i+3) + eye*7 + i) % 251)
	}
	return vio.Image{Width: w, Height: h, Data: data}
}
