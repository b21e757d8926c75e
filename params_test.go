package kimeravio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestDefaultParamsValidate(t *testing.T) {
	test.That(t, DefaultParams().Validate(), test.ShouldBeNil)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Params)
	}{
		{"short gravity", func(p *Params) { p.Gravity = []float64{0, -9.81} }},
		{"negative queue capacity", func(p *Params) { p.QueueCapacity = -1 }},
		{"zero min features", func(p *Params) { p.Frontend.MinFeatures = 0 }},
		{"inverted feature bounds", func(p *Params) { p.Frontend.MaxFeatures = p.Frontend.MinFeatures - 1 }},
		{"zero keyframe interval", func(p *Params) { p.Frontend.KeyframeInterval = 0 }},
		{"zero imu window", func(p *Params) { p.Initialization.MinImuSamples = 0 }},
		{"zero divergence velocity", func(p *Params) { p.DivergenceVelocity = 0 }},
		{"zero drain poll", func(p *Params) { p.DrainPollMillis = 0 }},
		{"short initial bias", func(p *Params) { p.Initialization.InitialAccelBias = []float64{1} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			params := DefaultParams()
			tc.mutate(&params)
			test.That(t, params.Validate(), test.ShouldNotBeNil)
		})
	}
}

func TestLoadParamsOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	contents := []byte(`
parallel_run: false
queue_capacity: 8
initialization:
  strategy: imu
  initial_gyro_bias: [0.01, 0, 0]
loop_closure:
  enable: false
`)
	test.That(t, os.WriteFile(path, contents, 0o644), test.ShouldBeNil)

	params, err := LoadParams(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.ParallelRun, test.ShouldBeFalse)
	test.That(t, params.QueueCapacity, test.ShouldEqual, 8)
	test.That(t, params.Initialization.Strategy, test.ShouldEqual, "imu")
	test.That(t, params.LoopClosure.Enable, test.ShouldBeFalse)

	// Untouched fields keep their defaults.
	test.That(t, params.Frontend.KeyframeInterval, test.ShouldEqual, int64(5))
	test.That(t, params.GravityVector(), test.ShouldResemble, r3.Vector{Z: -9.81})
	test.That(t, params.initialParams().InitialBias.Gyroscope, test.ShouldResemble, r3.Vector{X: 0.01})
}

func TestLoadParamsMissingFile(t *testing.T) {
	_, err := LoadParams(filepath.Join(t.TempDir(), "absent.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadParamsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	test.That(t, os.WriteFile(path, []byte("divergence_velocity: -1\n"), 0o644), test.ShouldBeNil)
	_, err := LoadParams(path)
	test.That(t, err, test.ShouldNotBeNil)
}
