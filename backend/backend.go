// Package backend implements the state-estimation stage. It owns the live
// NavState: the initializer seeds it once per bootstrap epoch, and from then
// on only this stage mutates it. Every downstream consumer gets an immutable
// snapshot. Estimation is inertial dead reckoning with bias correction,
// quaternion attitude integration, and gravity compensation.
package backend

import (
	"math"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"

	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

// Backend propagates the navigation state from frontend measurement payloads.
type Backend struct {
	gravity r3.Vector
	logger  golog.Logger

	mu          sync.Mutex
	initialized bool
	state       vio.NavState
	lastTs      vio.Timestamp
}

// New returns an unseeded backend. gravity is the world-frame gravity
// vector, typically {0, 0, -9.81}.
func New(gravity r3.Vector, logger golog.Logger) *Backend {
	return &Backend{gravity: gravity, logger: logger}
}

// Name implements stage.Processor.
func (b *Backend) Name() string { return "backend" }

// Initialize seeds (or, on re-initialization, reseeds) the navigation state
// at the given timestamp. Called by the orchestrator before any measurement
// payload for a later timestamp is delivered.
func (b *Backend) Initialize(state vio.NavState, ts vio.Timestamp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.lastTs = ts
	b.initialized = true
	b.logger.Infow("backend state seeded", "timestamp", ts)
}

// StateSnapshot returns a copy of the current navigation state.
func (b *Backend) StateSnapshot() (vio.NavState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.initialized
}

// Process integrates one measurement payload and emits a state snapshot.
func (b *Backend) Process(in vio.FrontendOutput) (vio.BackendOutput, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return vio.BackendOutput{}, false, errors.New("backend received payload before initialization")
	}
	if in.Timestamp < b.lastTs {
		return vio.BackendOutput{}, false, errors.Errorf("payload at %d predates state at %d", in.Timestamp, b.lastTs)
	}

	q := b.state.Pose.Orientation().Quaternion()
	pos := b.state.Pose.Point()
	vel := b.state.Velocity

	integrate := func(sample vio.ImuSample, until vio.Timestamp) {
		dt := until.Seconds(b.lastTs)
		if dt <= 0 {
			return
		}
		w := sample.AngularVelocity.Sub(b.state.Bias.Gyroscope)
		q = integrateRotation(q, w, dt)
		f := sample.LinearAcceleration.Sub(b.state.Bias.Accelerometer)
		accWorld := rotate(q, f).Add(b.gravity)
		pos = pos.Add(vel.Mul(dt)).Add(accWorld.Mul(0.5 * dt * dt))
		vel = vel.Add(accWorld.Mul(dt))
		b.lastTs = until
	}

	for _, sample := range in.Imu {
		integrate(sample, sample.Timestamp)
	}
	// Coast to the frame capture time on the last sample.
	if n := len(in.Imu); n > 0 {
		integrate(in.Imu[n-1], in.Timestamp)
	} else {
		b.lastTs = in.Timestamp
	}

	orient := spatialmath.Quaternion(normalize(q))
	b.state.Pose = spatialmath.NewPose(pos, &orient)
	b.state.Velocity = vel

	return vio.BackendOutput{
		Timestamp:  in.Timestamp,
		FrameID:    in.FrameID,
		IsKeyframe: in.IsKeyframe,
		State:      b.state,
	}, true, nil
}

// integrateRotation applies a body-frame angular rate over dt to the
// attitude quaternion.
func integrateRotation(q quat.Number, w r3.Vector, dt float64) quat.Number {
	angle := w.Norm() * dt
	if angle == 0 {
		return q
	}
	axis := w.Normalize()
	half := angle / 2
	s := math.Sin(half)
	dq := quat.Number{Real: math.Cos(half), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
	return quat.Mul(q, dq)
}

// rotate applies the attitude quaternion to a body-frame vector.
func rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
