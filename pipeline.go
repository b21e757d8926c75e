// Package kimeravio implements the orchestration core of a visual-inertial
// odometry engine. It wires the feature-tracking, state-estimation, mesh
// reconstruction, loop-closure, and visualization stages together with
// thread-safe queues, drives one of several bootstrapping strategies before
// steady-state estimation begins, and coordinates launch, pause/resume,
// graceful drain, and forced shutdown.
package kimeravio

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"

	"github.com/opal-ai/Kimera-VIO-opal/backend"
	"github.com/opal-ai/Kimera-VIO-opal/frontend"
	"github.com/opal-ai/Kimera-VIO-opal/initial"
	"github.com/opal-ai/Kimera-VIO-opal/loopclosure"
	"github.com/opal-ai/Kimera-VIO-opal/mesher"
	"github.com/opal-ai/Kimera-VIO-opal/queue"
	"github.com/opal-ai/Kimera-VIO-opal/stage"
	"github.com/opal-ai/Kimera-VIO-opal/vio"
	"github.com/opal-ai/Kimera-VIO-opal/visualizer"
)

// KeyframeRateOutputCallback receives backend estimates at keyframe rate,
// invoked synchronously on the backend stage's thread.
type KeyframeRateOutputCallback func(vio.BackendOutput)

// LcdOutputCallback receives loop-closure / pose-graph correction events,
// invoked synchronously on the loop-closure stage's thread.
type LcdOutputCallback func(vio.LcdOutput)

// DisplayFunc renders one frame. It is invoked on whichever thread drives
// SpinViz or SpinDisplayOnce, which must be the thread owning the display
// surface.
type DisplayFunc func(vio.VizFrame)

// Source produces the pipeline's input packets. NextPacket returns io.EOF
// when the stream ends.
type Source interface {
	NextPacket(ctx context.Context) (*vio.SyncPacket, error)
}

type pipelineQueue interface {
	Name() string
	Pause()
	Resume()
	Shutdown()
	Len() int
	Empty() bool
}

type stageHandle interface {
	Name() string
	IsWorking() bool
}

// Pipeline owns every stage and every inter-stage queue; stages hold only
// non-owning handles to the queues they consume. One Pipeline is built per
// run and cannot be relaunched after Shutdown.
type Pipeline struct {
	params Params
	logger golog.Logger
	runID  uuid.UUID

	initializer *initial.Initializer
	backend     *backend.Backend
	lcdDetector *loopclosure.Detector

	frontendQueue      *queue.Queue[*vio.SyncPacket]
	backendQueue       *queue.Queue[vio.FrontendOutput]
	mesherQueue        *queue.Queue[vio.BackendOutput]
	mesherFeatureQueue *queue.Queue[vio.FrontendOutput]
	lcdQueue           *queue.Queue[vio.BackendOutput]
	vizQueue           *queue.Queue[vio.VizInput]

	frontendModule *stage.Runner[*vio.SyncPacket, vio.FrontendOutput]
	backendModule  *stage.Runner[vio.FrontendOutput, vio.BackendOutput]
	mesherModule   *stage.Runner[vio.BackendOutput, vio.MesherOutput]
	lcdModule      *stage.Runner[vio.BackendOutput, vio.LcdOutput]
	vizModule      *stage.Runner[vio.VizInput, vio.VizFrame]

	queues []pipelineQueue
	stages []stageHandle

	// Callbacks must be registered before the first packet is submitted.
	keyframeCb KeyframeRateOutputCallback
	lcdCb      LcdOutputCallback
	displayFn  DisplayFunc

	// Lifecycle flags: written only on the submission/shutdown path, read by
	// every stage thread.
	shutdown         atomic.Bool
	isInitialized    atomic.Bool
	isLaunched       atomic.Bool
	frontendLaunched atomic.Bool
	reinitRequested  atomic.Bool
	initializedAtTs  atomic.Int64

	packetsSubmitted atomic.Int64
	packetsDropped   atomic.Int64

	shutdownOnce            sync.Once
	activeBackgroundWorkers sync.WaitGroup
}

// NewPipeline constructs and wires every stage and queue for the given
// configuration. gt may be nil when no ground-truth source exists.
// Construction failures are fatal: the pipeline never operates with a
// missing stage.
func NewPipeline(ctx context.Context, params Params, gt vio.GroundTruthProvider, logger golog.Logger) (*Pipeline, error) {
	_, span := trace.StartSpan(ctx, "kimeravio::NewPipeline")
	defer span.End()

	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline params")
	}
	initializer, err := initial.New(params.initialParams(), gt, logger)
	if err != nil {
		return nil, errors.Wrap(err, "building initializer")
	}

	p := &Pipeline{
		params:      params,
		logger:      logger,
		runID:       uuid.New(),
		initializer: initializer,
		backend:     backend.New(params.GravityVector(), logger),
	}

	// Seeded once, before any stage thread exists, so randomized stage
	// internals are reproducible on a given machine.
	rng := rand.New(rand.NewSource(params.RandomSeed))

	p.frontendQueue = queue.NewBounded[*vio.SyncPacket]("frontend_input", params.QueueCapacity, logger)
	p.backendQueue = queue.NewBounded[vio.FrontendOutput]("backend_input", params.QueueCapacity, logger)
	p.queues = append(p.queues, p.frontendQueue, p.backendQueue)

	p.frontendModule = stage.NewRunner[*vio.SyncPacket, vio.FrontendOutput](
		frontend.New(params.frontendParams(), rng, logger), p.frontendQueue, stage.PolicyThreaded, logger)
	p.backendModule = stage.NewRunner[vio.FrontendOutput, vio.BackendOutput](
		p.backend, p.backendQueue, stage.PolicyThreaded, logger)
	p.stages = append(p.stages, p.frontendModule, p.backendModule)

	if params.UseMesher {
		p.mesherQueue = queue.NewBounded[vio.BackendOutput]("mesher_input", params.QueueCapacity, logger)
		p.mesherFeatureQueue = queue.NewBounded[vio.FrontendOutput]("mesher_features", params.QueueCapacity, logger)
		p.mesherModule = stage.NewRunner[vio.BackendOutput, vio.MesherOutput](
			mesher.New(p.mesherFeatureQueue, logger), p.mesherQueue, stage.PolicyThreaded, logger)
		p.queues = append(p.queues, p.mesherQueue, p.mesherFeatureQueue)
		p.stages = append(p.stages, p.mesherModule)
	}
	if params.LoopClosure.Enable {
		p.lcdDetector = loopclosure.New(params.loopClosureParams(), logger)
		p.lcdQueue = queue.NewBounded[vio.BackendOutput]("lcd_input", params.QueueCapacity, logger)
		p.lcdModule = stage.NewRunner[vio.BackendOutput, vio.LcdOutput](
			p.lcdDetector, p.lcdQueue, stage.PolicyThreaded, logger)
		p.queues = append(p.queues, p.lcdQueue)
		p.stages = append(p.stages, p.lcdModule)
	}
	if params.UseVisualizer {
		p.vizQueue = queue.NewBounded[vio.VizInput]("visualizer_input", params.QueueCapacity, logger)
		p.vizModule = stage.NewRunner[vio.VizInput, vio.VizFrame](
			visualizer.New(logger), p.vizQueue, stage.PolicyCallerDriven, logger)
		p.queues = append(p.queues, p.vizQueue)
		p.stages = append(p.stages, p.vizModule)
	}

	p.wire()
	logger.Infow("pipeline constructed", "run_id", p.runID.String(), "parallel", params.ParallelRun)
	return p, nil
}

// wire connects every stage's outputs to its downstream consumers. The
// pipeline is the only component that knows the full topology. Loop-closure
// corrections flow outward only, never back into the backend's input queue.
func (p *Pipeline) wire() {
	p.frontendModule.AddConsumer(p.forwardFrontendOutput)

	p.backendModule.AddConsumer(func(out vio.BackendOutput) {
		if p.mesherQueue != nil {
			p.mesherQueue.Push(out)
		}
		if p.lcdQueue != nil {
			p.lcdQueue.Push(out)
		}
		if p.vizQueue != nil {
			o := out
			p.vizQueue.Push(vio.VizInput{Backend: &o})
		}
		if out.IsKeyframe && p.keyframeCb != nil {
			p.keyframeCb(out)
		}
	})

	if p.mesherModule != nil {
		p.mesherModule.AddConsumer(func(out vio.MesherOutput) {
			if p.vizQueue != nil {
				o := out
				p.vizQueue.Push(vio.VizInput{Mesh: &o})
			}
		})
	}
	if p.lcdModule != nil {
		p.lcdModule.AddConsumer(func(out vio.LcdOutput) {
			if p.lcdCb != nil {
				p.lcdCb(out)
			}
			if p.vizQueue != nil {
				o := out
				p.vizQueue.Push(vio.VizInput{Loop: &o})
			}
		})
	}
	if p.vizModule != nil {
		p.vizModule.AddConsumer(func(frame vio.VizFrame) {
			if p.displayFn != nil {
				p.displayFn(frame)
			}
		})
	}
}

// forwardFrontendOutput gates frontend payloads on initialization: nothing
// produced at or before the bootstrap timestamp goes downstream, in either
// execution mode. The gate is evaluated once per payload and covers the
// mesher's feature branch too, so no queue is ever left holding payloads the
// backend will never echo. The feature copy is pushed before the backend copy
// so the mesher can always pair by frame ID.
func (p *Pipeline) forwardFrontendOutput(out vio.FrontendOutput) {
	if !p.isInitialized.Load() || out.Timestamp <= vio.Timestamp(p.initializedAtTs.Load()) {
		p.logger.Debugw("dropping pre-initialization frontend payload", "frame", out.FrameID)
		return
	}
	if p.mesherFeatureQueue != nil {
		p.mesherFeatureQueue.Push(out)
	}
	p.backendQueue.Push(out)
}

// RegisterKeyframeRateOutputCallback registers the external consumer of
// keyframe-rate backend estimates. Must be called before the first packet.
func (p *Pipeline) RegisterKeyframeRateOutputCallback(cb KeyframeRateOutputCallback) {
	p.keyframeCb = cb
}

// RegisterLcdPgoOutputCallback registers the external consumer of
// loop-closure / pose-graph corrections. Registering with no loop-closure
// stage active is a configuration error, reported and ignored.
func (p *Pipeline) RegisterLcdPgoOutputCallback(cb LcdOutputCallback) {
	if p.lcdModule == nil {
		p.logger.Error("attempt to register an LCD/PGO callback, but no loop closure detector is active in the pipeline")
		return
	}
	p.lcdCb = cb
}

// RegisterDisplayCallback registers the renderer invoked from the display
// thread. Registering with no visualizer active is a configuration error,
// reported and ignored.
func (p *Pipeline) RegisterDisplayCallback(fn DisplayFunc) {
	if p.vizModule == nil {
		p.logger.Error("attempt to register a display callback, but no visualizer is active in the pipeline")
		return
	}
	p.displayFn = fn
}

// RequestReinitialization asks the pipeline to re-run bootstrapping from the
// next submitted packet. Stage threads are kept; only the estimation state
// restarts.
func (p *Pipeline) RequestReinitialization() {
	p.reinitRequested.Store(true)
}

// IsInitialized reports whether steady-state estimation is running.
func (p *Pipeline) IsInitialized() bool { return p.isInitialized.Load() }

// LatestEstimate returns a snapshot of the backend's current navigation
// state, ok=false before the first successful bootstrap.
func (p *Pipeline) LatestEstimate() (vio.NavState, bool) {
	return p.backend.StateSnapshot()
}

// Spin submits one packet for parallel processing: the packet is pushed into
// the frontend's input queue (blocking if the queue is bounded and full) and
// Spin returns. Ownership of the packet transfers to the pipeline. Packets
// submitted after shutdown are dropped and logged.
func (p *Pipeline) Spin(ctx context.Context, packet *vio.SyncPacket) {
	ctx, span := trace.StartSpan(ctx, "kimeravio::Pipeline::Spin")
	defer span.End()

	if !p.params.ParallelRun {
		p.SpinSequential(ctx, packet)
		return
	}
	if p.shutdown.Load() {
		p.dropPacket(packet)
		return
	}
	if p.isInitialized.Load() {
		p.checkReInitialize(packet)
	}
	p.SpinOnce(ctx, packet)
}

// SpinOnce submits one packet without running the re-initialization check.
func (p *Pipeline) SpinOnce(ctx context.Context, packet *vio.SyncPacket) {
	_, span := trace.StartSpan(ctx, "kimeravio::Pipeline::SpinOnce")
	defer span.End()

	if p.shutdown.Load() {
		p.dropPacket(packet)
		return
	}
	p.launchFrontendThread()
	p.packetsSubmitted.Add(1)
	p.frontendQueue.Push(packet)
	if !p.isInitialized.Load() {
		p.tryInitialize(packet)
	}
}

// SpinSequential processes exactly one packet through every stage in
// topological order on the calling thread. Given identical inputs and the
// same seed, the outputs match parallel mode value for value.
func (p *Pipeline) SpinSequential(ctx context.Context, packet *vio.SyncPacket) {
	_, span := trace.StartSpan(ctx, "kimeravio::Pipeline::SpinSequential")
	defer span.End()

	if p.shutdown.Load() {
		p.dropPacket(packet)
		return
	}
	if p.isInitialized.Load() {
		p.checkReInitialize(packet)
	}
	p.packetsSubmitted.Add(1)
	p.frontendQueue.Push(packet)
	p.frontendModule.SpinOnce()
	if !p.isInitialized.Load() {
		p.tryInitialize(packet)
	}
	p.backendModule.SpinOnce()
	if p.mesherModule != nil {
		p.mesherModule.SpinOnce()
	}
	if p.lcdModule != nil {
		p.lcdModule.SpinOnce()
	}
	if p.vizModule != nil {
		for p.vizModule.SpinOnce() {
		}
	}
}

// RunContinuously pulls packets from the source until end-of-stream, then
// drains and shuts the pipeline down. Used for parallel mode.
func (p *Pipeline) RunContinuously(ctx context.Context, source Source) error {
	ctx, span := trace.StartSpan(ctx, "kimeravio::Pipeline::RunContinuously")
	defer span.End()

	for {
		if err := ctx.Err(); err != nil {
			p.Shutdown()
			return err
		}
		if p.shutdown.Load() {
			return nil
		}
		packet, err := source.NextPacket(ctx)
		if errors.Is(err, io.EOF) {
			p.logger.Info("end of packet stream, draining pipeline")
			p.ShutdownWhenFinished(ctx)
			return nil
		}
		if err != nil {
			p.Shutdown()
			return errors.Wrap(err, "pulling next packet")
		}
		p.Spin(ctx, packet)
	}
}

// SpinViz blocks consuming the visualizer's queue and invoking the display
// callback until shutdown. It must run on the thread that owns the display
// surface. Returns true on a clean shutdown exit.
func (p *Pipeline) SpinViz(ctx context.Context) bool {
	if p.vizModule == nil {
		p.logger.Error("SpinViz called with no visualizer active in the pipeline")
		return false
	}
	for {
		if ctx.Err() != nil {
			return false
		}
		if !p.vizModule.SpinOnceBlocking() {
			return true
		}
	}
}

// SpinDisplayOnce processes at most one buffered visualizer input on the
// calling thread, reporting whether anything was displayed.
func (p *Pipeline) SpinDisplayOnce() bool {
	if p.vizModule == nil {
		return false
	}
	return p.vizModule.SpinOnce()
}

// Pause stops every queue from yielding items to its consumer stage without
// discarding anything already enqueued.
func (p *Pipeline) Pause() {
	p.logger.Info("pausing pipeline")
	for _, q := range p.queues {
		q.Pause()
	}
}

// Resume restores exactly the queue contents and order present at Pause.
func (p *Pipeline) Resume() {
	p.logger.Info("resuming pipeline")
	for _, q := range p.queues {
		q.Resume()
	}
}

// ShutdownWhenFinished waits until every queue is empty and every in-flight
// stage call has completed, then shuts down. Bounded only by the queues
// draining; an external watchdog is the embedding application's concern.
func (p *Pipeline) ShutdownWhenFinished(ctx context.Context) {
	_, span := trace.StartSpan(ctx, "kimeravio::Pipeline::ShutdownWhenFinished")
	defer span.End()

	poll := time.Duration(p.params.DrainPollMillis) * time.Millisecond
	// The drain condition must hold on two consecutive polls: a stage can be
	// between popping an item and flagging itself busy.
	stable := 0
	for !p.shutdown.Load() && stable < 2 {
		if p.drained() {
			stable++
		} else {
			stable = 0
		}
		if !goutils.SelectContextOrWait(ctx, poll) {
			break
		}
	}
	p.Shutdown()
}

func (p *Pipeline) drained() bool {
	for _, q := range p.queues {
		// The feature branch is consumed opportunistically while the mesher
		// handles a primary estimate. A leftover whose estimate was dropped
		// is not pending work and must not hold up the drain.
		if q == p.mesherFeatureQueue {
			continue
		}
		if !q.Empty() {
			return false
		}
	}
	for _, s := range p.stages {
		if s.IsWorking() {
			return false
		}
	}
	return true
}

// Shutdown stops the pipeline: it flips the shutdown flag so no new item is
// ever pushed, signals every queue to unblock its waiters, and joins every
// stage thread. Idempotent.
func (p *Pipeline) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.logger.Infow("shutting down pipeline",
			"run_id", p.runID.String(),
			"submitted", p.packetsSubmitted.Load(),
			"dropped", p.packetsDropped.Load())
		p.shutdown.Store(true)
		for _, q := range p.queues {
			q.Shutdown()
		}
		p.activeBackgroundWorkers.Wait()
		p.logger.Info("pipeline shut down cleanly")
	})
}

func (p *Pipeline) dropPacket(packet *vio.SyncPacket) {
	p.packetsDropped.Add(1)
	ts := vio.Timestamp(0)
	if packet != nil {
		ts = packet.Timestamp
	}
	p.logger.Debugw("packet dropped, pipeline is shut down", "timestamp", ts)
}

// QueueSizes reports the current buffered item count per queue.
func (p *Pipeline) QueueSizes() map[string]int {
	sizes := make(map[string]int, len(p.queues))
	for _, q := range p.queues {
		sizes[q.Name()] = q.Len()
	}
	return sizes
}

// tryInitialize feeds one packet to the bootstrapping procedure. Failures
// are reported and retried on the next packet; they never stop the pipeline.
func (p *Pipeline) tryInitialize(packet *vio.SyncPacket) {
	res, ok, err := p.initializer.TryInitialize(packet)
	if err != nil {
		p.logger.Warnw("initialization attempt failed, retrying on next packet", "error", err)
		return
	}
	if !ok {
		return
	}
	p.backend.Initialize(res.State, res.Timestamp)
	if p.lcdDetector != nil {
		p.lcdDetector.Reset()
	}
	p.initializedAtTs.Store(int64(res.Timestamp))
	p.isInitialized.Store(true)
	p.launchRemainingThreads()
}

// checkReInitialize re-enters bootstrapping when externally requested or
// when the estimate diverged. Already-launched stage threads are kept.
func (p *Pipeline) checkReInitialize(packet *vio.SyncPacket) {
	reason := ""
	if p.reinitRequested.CompareAndSwap(true, false) {
		reason = "external reset request"
	} else if state, ok := p.backend.StateSnapshot(); ok &&
		state.Velocity.Norm() > p.params.DivergenceVelocity {
		reason = "estimate diverged"
	}
	if reason == "" {
		return
	}
	p.logger.Warnw("re-initializing pipeline", "reason", reason, "timestamp", packet.Timestamp)
	p.isInitialized.Store(false)
	p.initializer.Reset()
}

// launchFrontendThread starts the frontend's thread on the first submission,
// so feature tracking runs during multi-packet bootstrapping.
func (p *Pipeline) launchFrontendThread() {
	if !p.params.ParallelRun || !p.frontendLaunched.CompareAndSwap(false, true) {
		return
	}
	p.launchStageThread(p.frontendModule.Spin, p.frontendModule.Name())
}

// launchRemainingThreads starts every other threaded stage once
// bootstrapping has reached the nominal state.
func (p *Pipeline) launchRemainingThreads() {
	if !p.params.ParallelRun || !p.isLaunched.CompareAndSwap(false, true) {
		return
	}
	p.launchStageThread(p.backendModule.Spin, p.backendModule.Name())
	if p.mesherModule != nil {
		p.launchStageThread(p.mesherModule.Spin, p.mesherModule.Name())
	}
	if p.lcdModule != nil {
		p.launchStageThread(p.lcdModule.Spin, p.lcdModule.Name())
	}
}

func (p *Pipeline) launchStageThread(spin func(), name string) {
	p.logger.Debugw("launching stage thread", "stage", name)
	p.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer p.activeBackgroundWorkers.Done()
		spin()
	})
}
