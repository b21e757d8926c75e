// Package stage provides the uniform capability every pipeline stage
// implements (consume one input, produce zero-or-one output) and the runner
// that drives a stage against its input queue, fanning each output out to
// the consumers wired in by the orchestrator.
package stage

import (
	"sync/atomic"

	"github.com/edaniels/golog"

	"github.com/opal-ai/Kimera-VIO-opal/queue"
)

// Policy selects how a stage's runner is scheduled.
type Policy int

const (
	// PolicyThreaded runs the stage on its own background thread, looping on
	// the input queue until shutdown.
	PolicyThreaded Policy = iota
	// PolicyCallerDriven runs the stage only through explicit SpinOnce calls
	// from a thread the caller owns. Used for the display-bound visualizer.
	PolicyCallerDriven
)

// Processor is one processing stage. Process returns the produced payload
// and ok=true, or ok=false when this input yields no output. Errors are
// per-input: the runner logs them and moves on, they never halt the stage.
type Processor[In, Out any] interface {
	Name() string
	Process(in In) (Out, bool, error)
}

// Runner drives one Processor against its input queue. The orchestrator is
// the only component that wires consumers; a consumer is either a downstream
// queue push or an external callback, invoked on the runner's thread in
// production order.
type Runner[In, Out any] struct {
	proc      Processor[In, Out]
	in        *queue.Queue[In]
	policy    Policy
	logger    golog.Logger
	consumers []func(Out)
	working   atomic.Bool
}

// NewRunner wires a processor to its input queue. Consumers must be added
// before the runner starts spinning.
func NewRunner[In, Out any](proc Processor[In, Out], in *queue.Queue[In], policy Policy, logger golog.Logger) *Runner[In, Out] {
	return &Runner[In, Out]{proc: proc, in: in, policy: policy, logger: logger}
}

// Name returns the underlying processor's name.
func (r *Runner[In, Out]) Name() string { return r.proc.Name() }

// Policy returns the runner's scheduling policy.
func (r *Runner[In, Out]) Policy() Policy { return r.policy }

// InputQueue returns the queue this runner consumes. The runner does not own
// it; the orchestrator does.
func (r *Runner[In, Out]) InputQueue() *queue.Queue[In] { return r.in }

// AddConsumer registers a sink for this stage's outputs. Not safe to call
// once the runner is spinning.
func (r *Runner[In, Out]) AddConsumer(fn func(Out)) {
	r.consumers = append(r.consumers, fn)
}

// IsWorking reports whether an input is currently being processed. Together
// with the queue's emptiness this is the drain condition used by graceful
// shutdown.
func (r *Runner[In, Out]) IsWorking() bool { return r.working.Load() }

// Spin consumes the input queue until its shutdown signal fires. Runs on a
// dedicated background thread under PolicyThreaded.
func (r *Runner[In, Out]) Spin() {
	r.logger.Debugw("stage spinning", "stage", r.Name())
	for {
		in, ok := r.in.Pop()
		if !ok {
			r.logger.Debugw("stage exiting", "stage", r.Name())
			return
		}
		r.handle(in)
		r.in.TaskDone()
	}
}

// SpinOnce processes at most one buffered input without blocking, reporting
// whether an input was handled. Used by the sequential execution mode and by
// caller-driven stages.
func (r *Runner[In, Out]) SpinOnce() bool {
	in, ok := r.in.TryPop()
	if !ok {
		return false
	}
	r.handle(in)
	return true
}

// SpinOnceBlocking waits for one input and processes it, reporting false
// once the input queue has been shut down.
func (r *Runner[In, Out]) SpinOnceBlocking() bool {
	in, ok := r.in.Pop()
	if !ok {
		return false
	}
	r.handle(in)
	r.in.TaskDone()
	return true
}

func (r *Runner[In, Out]) handle(in In) {
	r.working.Store(true)
	defer r.working.Store(false)
	out, ok, err := r.proc.Process(in)
	if err != nil {
		// Per-input failure: skip and keep the stage alive.
		r.logger.Warnw("stage failed to process input", "stage", r.Name(), "error", err)
		return
	}
	if !ok {
		return
	}
	for _, fn := range r.consumers {
		fn(out)
	}
}
