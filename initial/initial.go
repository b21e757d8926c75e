// Package initial implements the one-shot bootstrapping procedure that
// produces the pipeline's first navigation state. Three interchangeable
// strategies are provided: adopting an external ground-truth state, deriving
// attitude and bias from a stationary inertial window, and online alignment
// over a buffered multi-packet window. Failures are non-fatal by contract:
// the orchestrator retries on the next packet.
package initial

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/stat"

	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

// Strategy selects how the first navigation state is produced.
type Strategy string

const (
	// StrategyAuto picks the first applicable strategy in the order
	// ground-truth, stationary-IMU, online-alignment.
	StrategyAuto Strategy = "auto"
	// StrategyGroundTruth adopts an externally supplied reference state.
	StrategyGroundTruth Strategy = "ground_truth"
	// StrategyStationaryImu assumes the platform starts at rest and derives
	// attitude and bias from the first packet's inertial window.
	StrategyStationaryImu Strategy = "imu"
	// StrategyOnlineAlignment buffers several packets and solves for a
	// consistent gravity/bias estimate before emitting a state.
	StrategyOnlineAlignment Strategy = "online"
)

// Supported lists the accepted strategy values.
var Supported = []Strategy{StrategyAuto, StrategyGroundTruth, StrategyStationaryImu, StrategyOnlineAlignment}

// Params configures bootstrapping.
type Params struct {
	Strategy Strategy
	// Gravity is the world-frame gravity vector.
	Gravity r3.Vector
	// MinImuSamples is the minimum inertial window for the stationary
	// strategy.
	MinImuSamples int
	// StationaryMaxSigma is the largest specific-force standard deviation,
	// in m/s^2, still considered at rest.
	StationaryMaxSigma float64
	// MinMotionSigma is the smallest inertial excitation required for the
	// online alignment solve to be well conditioned.
	MinMotionSigma float64
	// AlignmentWindow is the packet count buffered by the online strategy.
	AlignmentWindow int
	// InitialBias seeds the bias estimate for the ground-truth strategy.
	InitialBias vio.ImuBias
}

// Result is one successful bootstrap.
type Result struct {
	State     vio.NavState
	Strategy  Strategy
	Timestamp vio.Timestamp
	// Epoch distinguishes bootstrap generations across re-initialization.
	Epoch uuid.UUID
}

// Initializer runs the configured strategy packet by packet until one
// succeeds. It is driven only from the orchestrator's submission path, never
// from a stage thread.
type Initializer struct {
	params Params
	gt     vio.GroundTruthProvider
	logger golog.Logger

	window []*vio.SyncPacket
}

// New validates the configuration and returns an initializer. gt may be nil
// when no ground-truth source exists.
func New(params Params, gt vio.GroundTruthProvider, logger golog.Logger) (*Initializer, error) {
	if !slices.Contains(Supported, params.Strategy) {
		return nil, errors.Errorf("unsupported initialization strategy %q", params.Strategy)
	}
	if params.Strategy == StrategyGroundTruth && gt == nil {
		return nil, errors.New("ground_truth strategy requires a ground truth provider")
	}
	if params.MinImuSamples < 1 {
		return nil, errors.Errorf("min imu samples must be at least 1, got %d", params.MinImuSamples)
	}
	if params.AlignmentWindow < 1 {
		return nil, errors.Errorf("alignment window must be at least 1, got %d", params.AlignmentWindow)
	}
	return &Initializer{params: params, gt: gt, logger: logger}, nil
}

// Reset discards buffered alignment data so bootstrapping restarts cleanly.
// Called by the orchestrator on re-initialization.
func (in *Initializer) Reset() {
	in.window = in.window[:0]
}

// TryInitialize attempts to produce the first navigation state from one more
// packet. ok=false with a nil error means more data is needed (the online
// strategy buffering its window); an error is a retryable failure.
func (in *Initializer) TryInitialize(packet *vio.SyncPacket) (Result, bool, error) {
	switch in.params.Strategy {
	case StrategyGroundTruth:
		return in.fromGroundTruth(packet)
	case StrategyStationaryImu:
		return in.fromStationaryImu(packet)
	case StrategyOnlineAlignment:
		return in.fromOnlineAlignment(packet)
	default: // StrategyAuto
	}

	if in.gt != nil {
		res, ok, err := in.fromGroundTruth(packet)
		if err == nil {
			return res, ok, nil
		}
		if !errors.Is(err, vio.ErrNoGroundTruth) {
			return Result{}, false, err
		}
		in.logger.Debugw("no ground truth for packet, falling back", "timestamp", packet.Timestamp)
	}
	if res, ok, err := in.fromStationaryImu(packet); err == nil {
		return res, ok, nil
	}
	return in.fromOnlineAlignment(packet)
}

func (in *Initializer) fromGroundTruth(packet *vio.SyncPacket) (Result, bool, error) {
	state, err := in.gt.NavStateAt(packet.Timestamp)
	if err != nil {
		return Result{}, false, errors.Wrapf(err, "ground truth lookup at %d", packet.Timestamp)
	}
	// The reference supplies pose and velocity; bias comes from configuration.
	state.Bias = in.params.InitialBias
	return in.result(state, StrategyGroundTruth, packet.Timestamp), true, nil
}

func (in *Initializer) fromStationaryImu(packet *vio.SyncPacket) (Result, bool, error) {
	samples := packet.Imu
	if len(samples) < in.params.MinImuSamples {
		return Result{}, false, errors.Errorf(
			"stationary init needs %d imu samples, packet has %d", in.params.MinImuSamples, len(samples))
	}
	meanF, sigmaF := meanAndSigma(samples, func(s vio.ImuSample) r3.Vector { return s.LinearAcceleration })
	meanW, sigmaW := meanAndSigma(samples, func(s vio.ImuSample) r3.Vector { return s.AngularVelocity })
	if sigmaF > in.params.StationaryMaxSigma || sigmaW > in.params.StationaryMaxSigma {
		return Result{}, false, errors.Errorf(
			"platform not stationary: accel sigma %.4f, gyro sigma %.4f", sigmaF, sigmaW)
	}

	orientation := attitudeFromGravity(meanF)
	state := vio.NavState{
		Pose: spatialmath.NewPose(r3.Vector{}, orientation),
		Bias: vio.ImuBias{
			// The residual between the observed mean specific force and the
			// force a perfect accelerometer would see at this attitude.
			Accelerometer: meanF.Sub(expectedSpecificForce(orientation, in.params.Gravity)),
			Gyroscope:     meanW,
		},
	}
	return in.result(state, StrategyStationaryImu, packet.Timestamp), true, nil
}

func (in *Initializer) fromOnlineAlignment(packet *vio.SyncPacket) (Result, bool, error) {
	in.window = append(in.window, packet)
	if len(in.window) < in.params.AlignmentWindow {
		in.logger.Debugw("buffering packets for online alignment",
			"buffered", len(in.window), "window", in.params.AlignmentWindow)
		return Result{}, false, nil
	}

	var samples []vio.ImuSample
	for _, p := range in.window {
		samples = append(samples, p.Imu...)
	}
	if len(samples) < in.params.MinImuSamples {
		in.window = in.window[1:]
		return Result{}, false, errors.Errorf("alignment window holds only %d imu samples", len(samples))
	}

	if err := checkExcitation(samples, in.params.MinMotionSigma); err != nil {
		// Slide the window forward and keep trying.
		in.window = in.window[1:]
		return Result{}, false, err
	}

	meanF, _ := meanAndSigma(samples, func(s vio.ImuSample) r3.Vector { return s.LinearAcceleration })
	meanW, _ := meanAndSigma(samples, func(s vio.ImuSample) r3.Vector { return s.AngularVelocity })
	orientation := attitudeFromGravity(meanF)
	state := vio.NavState{
		Pose: spatialmath.NewPose(r3.Vector{}, orientation),
		Bias: vio.ImuBias{Gyroscope: meanW},
	}
	ts := in.window[len(in.window)-1].Timestamp
	in.window = in.window[:0]
	return in.result(state, StrategyOnlineAlignment, ts), true, nil
}

func (in *Initializer) result(state vio.NavState, strategy Strategy, ts vio.Timestamp) Result {
	res := Result{State: state, Strategy: strategy, Timestamp: ts, Epoch: uuid.New()}
	in.logger.Infow("pipeline initialized",
		"strategy", string(strategy), "timestamp", ts, "epoch", res.Epoch.String())
	return res
}

// checkExcitation verifies the alignment solve is well conditioned: the
// specific-force samples, once centered, must span enough spread. The
// conditioning measure is the largest singular value of the centered sample
// matrix, normalized by the sample count.
func checkExcitation(samples []vio.ImuSample, minSigma float64) error {
	if len(samples) == 0 {
		return errors.New("no imu samples in alignment window")
	}
	meanF, _ := meanAndSigma(samples, func(s vio.ImuSample) r3.Vector { return s.LinearAcceleration })
	centered := mat.NewDense(len(samples), 3, nil)
	for i, s := range samples {
		d := s.LinearAcceleration.Sub(meanF)
		centered.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDNone) {
		return errors.New("alignment conditioning SVD failed to factorize")
	}
	values := svd.Values(nil)
	excitation := values[0] / math.Sqrt(float64(len(samples)))
	if excitation < minSigma {
		return errors.Errorf("insufficient motion for online alignment: excitation %.4f < %.4f",
			excitation, minSigma)
	}
	return nil
}

// meanAndSigma returns the per-axis mean of a sample field and the largest
// per-axis standard deviation.
func meanAndSigma(samples []vio.ImuSample, field func(vio.ImuSample) r3.Vector) (r3.Vector, float64) {
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	zs := make([]float64, len(samples))
	for i, s := range samples {
		v := field(s)
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	mean := r3.Vector{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
	sigma := math.Max(stat.StdDev(xs, nil), math.Max(stat.StdDev(ys, nil), stat.StdDev(zs, nil)))
	return mean, sigma
}

// attitudeFromGravity recovers roll and pitch from the mean specific force
// observed at rest; yaw is unobservable from gravity alone and set to zero.
func attitudeFromGravity(meanF r3.Vector) spatialmath.Orientation {
	roll := math.Atan2(meanF.Y, meanF.Z)
	pitch := math.Atan2(-meanF.X, math.Hypot(meanF.Y, meanF.Z))
	return &spatialmath.EulerAngles{Roll: roll, Pitch: pitch, Yaw: 0}
}

// expectedSpecificForce is the accelerometer reading a bias-free sensor
// would report at the given attitude while stationary.
func expectedSpecificForce(o spatialmath.Orientation, gravity r3.Vector) r3.Vector {
	q := quat.Conj(o.Quaternion())
	g := quat.Number{Imag: -gravity.X, Jmag: -gravity.Y, Kmag: -gravity.Z}
	r := quat.Mul(quat.Mul(q, g), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}
