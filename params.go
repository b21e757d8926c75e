package kimeravio

import (
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/opal-ai/Kimera-VIO-opal/frontend"
	"github.com/opal-ai/Kimera-VIO-opal/initial"
	"github.com/opal-ai/Kimera-VIO-opal/loopclosure"
	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

// FrontendParams configures the feature-tracking stage.
type FrontendParams struct {
	MinFeatures      int   `yaml:"min_features"`
	MaxFeatures      int   `yaml:"max_features"`
	KeyframeInterval int64 `yaml:"keyframe_interval"`
}

// InitializationParams configures bootstrapping.
type InitializationParams struct {
	Strategy           string    `yaml:"strategy"`
	MinImuSamples      int       `yaml:"min_imu_samples"`
	StationaryMaxSigma float64   `yaml:"stationary_max_sigma"`
	MinMotionSigma     float64   `yaml:"min_motion_sigma"`
	AlignmentWindow    int       `yaml:"alignment_window"`
	InitialAccelBias   []float64 `yaml:"initial_accel_bias"`
	InitialGyroBias    []float64 `yaml:"initial_gyro_bias"`
}

// LoopClosureParams configures loop-closure detection.
type LoopClosureParams struct {
	Enable      bool    `yaml:"enable"`
	RadiusM     float64 `yaml:"radius_m"`
	MinFrameGap int64   `yaml:"min_frame_gap"`
}

// Params is the pipeline configuration, loadable from a YAML file.
type Params struct {
	// ParallelRun selects one thread per stage connected by queues; false
	// runs every stage in-line on the submitting thread.
	ParallelRun bool `yaml:"parallel_run"`
	// QueueCapacity bounds every inter-stage queue; producers block when a
	// bounded queue is full. Zero means unbounded.
	QueueCapacity int `yaml:"queue_capacity"`
	// RandomSeed makes randomized stage internals reproducible on a given
	// machine. Applied once, before any stage thread starts.
	RandomSeed int64 `yaml:"random_seed"`
	// Gravity is the world-frame gravity vector in m/s^2.
	Gravity []float64 `yaml:"gravity"`
	// DivergenceVelocity is the world-frame speed, in m/s, beyond which the
	// estimate is considered diverged and re-initialization triggers.
	DivergenceVelocity float64 `yaml:"divergence_velocity"`
	// DrainPollMillis is the polling period of ShutdownWhenFinished.
	DrainPollMillis int `yaml:"drain_poll_millis"`

	UseMesher     bool `yaml:"use_mesher"`
	UseVisualizer bool `yaml:"use_visualizer"`

	Frontend       FrontendParams       `yaml:"frontend"`
	Initialization InitializationParams `yaml:"initialization"`
	LoopClosure    LoopClosureParams    `yaml:"loop_closure"`
}

// DefaultParams returns a full configuration with conservative defaults:
// parallel run, unbounded queues, every stage enabled, auto initialization.
func DefaultParams() Params {
	return Params{
		ParallelRun:        true,
		RandomSeed:         0,
		Gravity:            []float64{0, 0, -9.81},
		DivergenceVelocity: 50,
		DrainPollMillis:    10,
		UseMesher:          true,
		UseVisualizer:      true,
		Frontend: FrontendParams{
			MinFeatures:      40,
			MaxFeatures:      300,
			KeyframeInterval: 5,
		},
		Initialization: InitializationParams{
			Strategy:           string(initial.StrategyAuto),
			MinImuSamples:      5,
			StationaryMaxSigma: 0.1,
			MinMotionSigma:     0.2,
			AlignmentWindow:    4,
		},
		LoopClosure: LoopClosureParams{
			Enable:      true,
			RadiusM:     0.5,
			MinFrameGap: 20,
		},
	}
}

// LoadParams reads a YAML parameter file over the defaults.
func LoadParams(path string) (Params, error) {
	params := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, errors.Wrapf(err, "reading pipeline params %q", path)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return Params{}, errors.Wrapf(err, "parsing pipeline params %q", path)
	}
	if err := params.Validate(); err != nil {
		return Params{}, errors.Wrapf(err, "validating pipeline params %q", path)
	}
	return params, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (p Params) Validate() error {
	if len(p.Gravity) != 3 {
		return errors.Errorf("gravity must have 3 components, got %d", len(p.Gravity))
	}
	if p.QueueCapacity < 0 {
		return errors.Errorf("queue_capacity cannot be negative, got %d", p.QueueCapacity)
	}
	if p.Frontend.MinFeatures <= 0 || p.Frontend.MaxFeatures < p.Frontend.MinFeatures {
		return errors.Errorf("invalid feature bounds [%d, %d]", p.Frontend.MinFeatures, p.Frontend.MaxFeatures)
	}
	if p.Frontend.KeyframeInterval < 1 {
		return errors.Errorf("keyframe_interval must be at least 1, got %d", p.Frontend.KeyframeInterval)
	}
	if p.Initialization.MinImuSamples < 1 {
		return errors.Errorf("min_imu_samples must be at least 1, got %d", p.Initialization.MinImuSamples)
	}
	if p.DivergenceVelocity <= 0 {
		return errors.New("divergence_velocity must be positive")
	}
	if p.DrainPollMillis <= 0 {
		return errors.New("drain_poll_millis must be positive")
	}
	for _, b := range [][]float64{p.Initialization.InitialAccelBias, p.Initialization.InitialGyroBias} {
		if len(b) != 0 && len(b) != 3 {
			return errors.Errorf("initial bias must have 3 components, got %d", len(b))
		}
	}
	return nil
}

// GravityVector returns Gravity as a vector.
func (p Params) GravityVector() r3.Vector {
	return r3.Vector{X: p.Gravity[0], Y: p.Gravity[1], Z: p.Gravity[2]}
}

func (p Params) initialParams() initial.Params {
	return initial.Params{
		Strategy:           initial.Strategy(p.Initialization.Strategy),
		Gravity:            p.GravityVector(),
		MinImuSamples:      p.Initialization.MinImuSamples,
		StationaryMaxSigma: p.Initialization.StationaryMaxSigma,
		MinMotionSigma:     p.Initialization.MinMotionSigma,
		AlignmentWindow:    p.Initialization.AlignmentWindow,
		InitialBias: vio.ImuBias{
			Accelerometer: vectorOrZero(p.Initialization.InitialAccelBias),
			Gyroscope:     vectorOrZero(p.Initialization.InitialGyroBias),
		},
	}
}

func (p Params) frontendParams() frontend.Params {
	return frontend.Params{
		MinFeatures:      p.Frontend.MinFeatures,
		MaxFeatures:      p.Frontend.MaxFeatures,
		KeyframeInterval: p.Frontend.KeyframeInterval,
	}
}

func (p Params) loopClosureParams() loopclosure.Params {
	return loopclosure.Params{Radius: p.LoopClosure.RadiusM, MinFrameGap: p.LoopClosure.MinFrameGap}
}

func vectorOrZero(v []float64) r3.Vector {
	if len(v) != 3 {
		return r3.Vector{}
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}
