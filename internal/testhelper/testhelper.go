// Package testhelper provides fixtures shared by the pipeline tests: packet
// builders, a map-backed ground-truth provider, and thread-safe output
// collectors.
package testhelper

import (
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

// Gravity is the world-frame gravity vector used throughout the tests.
var Gravity = r3.Vector{Z: -9.81}

// GroundTruth is a map-backed ground-truth provider.
type GroundTruth struct {
	States map[vio.Timestamp]vio.NavState
}

// NavStateAt implements vio.GroundTruthProvider.
func (g *GroundTruth) NavStateAt(ts vio.Timestamp) (vio.NavState, error) {
	state, ok := g.States[ts]
	if !ok {
		return vio.NavState{}, vio.ErrNoGroundTruth
	}
	return state, nil
}

// PacketSpec shapes one synthesized packet.
type PacketSpec struct {
	Index int
	// Excitation adds a constant X acceleration in m/s^2 on top of the
	// stationary gravity reading. Zero keeps the platform at rest.
	Excitation float64
	// ImuCount overrides the default number of inertial samples.
	ImuCount int
}

const (
	// PacketPeriod is the synthesized inter-packet interval.
	PacketPeriod = 100 * time.Millisecond
	// StartTime is the capture time of packet index -1; packet 0 captures
	// one period later.
	StartTime = vio.Timestamp(1_000_000_000)

	defaultImuCount = 10
)

// PacketTimestamp returns the capture time of the packet at index i.
func PacketTimestamp(i int) vio.Timestamp {
	return StartTime + vio.Timestamp(time.Duration(i+1)*PacketPeriod)
}

// NewPacket synthesizes one deterministic stereo/inertial packet.
func NewPacket(spec PacketSpec) *vio.SyncPacket {
	imuCount := spec.ImuCount
	if imuCount == 0 {
		imuCount = defaultImuCount
	}
	ts := PacketTimestamp(spec.Index)
	prev := PacketTimestamp(spec.Index - 1)
	step := (ts - prev) / vio.Timestamp(imuCount)

	imu := make([]vio.ImuSample, 0, imuCount)
	for k := 1; k <= imuCount; k++ {
		force := Gravity.Mul(-1)
		// Alternate the excitation sign per sample so the mean stays near
		// the gravity reading while the spread reflects real motion.
		if k%2 == 0 {
			force.X -= spec.Excitation
		} else {
			force.X += spec.Excitation
		}
		imu = append(imu, vio.ImuSample{
			Timestamp:          prev + vio.Timestamp(k)*step,
			LinearAcceleration: force,
		})
	}

	packet, err := vio.NewSyncPacket(ts, image(spec.Index, 0), image(spec.Index, 1), imu)
	if err != nil {
		panic(err) // fixture bug, not a test condition
	}
	return packet
}

// StationaryPackets synthesizes n consecutive at-rest packets.
func StationaryPackets(n int) []*vio.SyncPacket {
	packets := make([]*vio.SyncPacket, 0, n)
	for i := 0; i < n; i++ {
		packets = append(packets, NewPacket(PacketSpec{Index: i}))
	}
	return packets
}

// MovingPackets synthesizes n consecutive packets with inertial excitation.
func MovingPackets(n int) []*vio.SyncPacket {
	packets := make([]*vio.SyncPacket, 0, n)
	for i := 0; i < n; i++ {
		packets = append(packets, NewPacket(PacketSpec{Index: i, Excitation: 1.5}))
	}
	return packets
}

func image(i, eye int) vio.Image {
	const w, h = 32, 24
	data := make([]byte, w*h)
	for px := range data {
		data[px] = byte((px*(i+3) + eye*7 + i) % 251)
	}
	return vio.Image{Width: w, Height: h, Data: data}
}

// BackendCollector gathers keyframe-rate outputs across stage threads.
type BackendCollector struct {
	mu      sync.Mutex
	outputs []vio.BackendOutput
}

// Callback is the function to register on the pipeline.
func (c *BackendCollector) Callback(out vio.BackendOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, out)
}

// Outputs returns a snapshot of everything collected so far.
func (c *BackendCollector) Outputs() []vio.BackendOutput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]vio.BackendOutput(nil), c.outputs...)
}

// LcdCollector gathers loop-closure outputs across stage threads.
type LcdCollector struct {
	mu      sync.Mutex
	outputs []vio.LcdOutput
}

// Callback is the function to register on the pipeline.
func (c *LcdCollector) Callback(out vio.LcdOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, out)
}

// Outputs returns a snapshot of everything collected so far.
func (c *LcdCollector) Outputs() []vio.LcdOutput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]vio.LcdOutput(nil), c.outputs...)
}
