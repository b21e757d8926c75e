// The kimera-vio command replays a synthetic packet stream through the VIO
// pipeline, in parallel or sequential mode, and logs the estimates it
// produces. The main thread owns the display surface, so it drives the
// visualizer loop while a background worker feeds the pipeline.
package main

import (
	"context"
	"flag"
	"io"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	kimeravio "github.com/opal-ai/Kimera-VIO-opal"
	"github.com/opal-ai/Kimera-VIO-opal/datasource"
	"github.com/opal-ai/Kimera-VIO-opal/vio"
)

func main() {
	goutils.ContextualMain(mainWithArgs, golog.NewDevelopmentLogger("kimeravio"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML pipeline parameter file")
	packetCount := flags.Int("packets", 200, "number of synthetic packets to replay")
	excitation := flags.Float64("excitation", 1.5, "sinusoidal acceleration amplitude in m/s^2")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	params := kimeravio.DefaultParams()
	if *configPath != "" {
		var err error
		if params, err = kimeravio.LoadParams(*configPath); err != nil {
			return err
		}
	}

	pipeline, err := kimeravio.NewPipeline(ctx, params, nil, logger)
	if err != nil {
		return errors.Wrap(err, "building pipeline")
	}
	pipeline.RegisterKeyframeRateOutputCallback(func(out vio.BackendOutput) {
		logger.Infow("keyframe estimate",
			"frame", out.FrameID,
			"position", out.State.Pose.Point(),
			"speed", out.State.Velocity.Norm())
	})
	if params.LoopClosure.Enable {
		pipeline.RegisterLcdPgoOutputCallback(func(out vio.LcdOutput) {
			logger.Infow("loop closure", "query", out.QueryFrameID, "match", out.MatchFrameID)
		})
	}
	if params.UseVisualizer {
		pipeline.RegisterDisplayCallback(func(frame vio.VizFrame) {
			logger.Debugw("display frame",
				"frame", frame.FrameID,
				"mesh_vertices", frame.MeshVertices,
				"loop_closures", frame.LoopClosures)
		})
	}

	source, err := datasource.NewSynthetic(datasource.SyntheticConfig{
		Start:          vio.TimestampFromTime(time.Now()),
		PacketPeriod:   50 * time.Millisecond,
		ImuPerPacket:   10,
		Count:          *packetCount,
		Gravity:        params.GravityVector(),
		AccelAmplitude: *excitation,
	}, logger)
	if err != nil {
		return errors.Wrap(err, "building packet source")
	}

	if !params.ParallelRun {
		for {
			packet, err := source.NextPacket(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				pipeline.Shutdown()
				return err
			}
			pipeline.SpinSequential(ctx, packet)
		}
		pipeline.Shutdown()
		return nil
	}

	errCh := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		errCh <- pipeline.RunContinuously(ctx, source)
	})
	// Display consumption stays on the main thread.
	pipeline.SpinViz(ctx)
	return <-errCh
}
