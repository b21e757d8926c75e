package stage

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/opal-ai/Kimera-VIO-opal/queue"
)

// doubler doubles positive inputs, produces nothing for zero, and fails for
// negative inputs.
type doubler struct{}

func (doubler) Name() string { return "doubler" }

func (doubler) Process(in int) (int, bool, error) {
	switch {
	case in < 0:
		return 0, false, errors.Errorf("cannot process %d", in)
	case in == 0:
		return 0, false, nil
	default:
		return in * 2, true, nil
	}
}

func newRunner(t *testing.T) (*Runner[int, int], *queue.Queue[int], *[]int) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	in := queue.New[int]("doubler_input", logger)
	r := NewRunner[int, int](doubler{}, in, PolicyThreaded, logger)
	var got []int
	r.AddConsumer(func(out int) { got = append(got, out) })
	return r, in, &got
}

func TestSpinOnceFansOut(t *testing.T) {
	r, in, got := newRunner(t)
	in.Push(3)
	test.That(t, r.SpinOnce(), test.ShouldBeTrue)
	test.That(t, *got, test.ShouldResemble, []int{6})
}

func TestSpinOnceEmptyQueue(t *testing.T) {
	r, _, got := newRunner(t)
	test.That(t, r.SpinOnce(), test.ShouldBeFalse)
	test.That(t, *got, test.ShouldHaveLength, 0)
}

func TestZeroOutputInput(t *testing.T) {
	r, in, got := newRunner(t)
	in.Push(0)
	test.That(t, r.SpinOnce(), test.ShouldBeTrue)
	test.That(t, *got, test.ShouldHaveLength, 0)
}

func TestPerInputFailureSkipsAndContinues(t *testing.T) {
	r, in, got := newRunner(t)
	in.Push(-1)
	in.Push(4)
	test.That(t, r.SpinOnce(), test.ShouldBeTrue)
	test.That(t, *got, test.ShouldHaveLength, 0)
	test.That(t, r.SpinOnce(), test.ShouldBeTrue)
	test.That(t, *got, test.ShouldResemble, []int{8})
}

func TestSpinExitsOnShutdown(t *testing.T) {
	logger := golog.NewTestLogger(t)
	in := queue.New[int]("doubler_input", logger)
	r := NewRunner[int, int](doubler{}, in, PolicyThreaded, logger)

	var got []int
	collected := make(chan struct{}, 8)
	r.AddConsumer(func(out int) {
		got = append(got, out)
		collected <- struct{}{}
	})

	done := make(chan struct{})
	go func() {
		r.Spin()
		close(done)
	}()

	in.Push(1)
	in.Push(2)
	<-collected
	<-collected
	in.Shutdown()
	<-done
	test.That(t, got, test.ShouldResemble, []int{2, 4})
	test.That(t, r.IsWorking(), test.ShouldBeFalse)
}

func TestPolicyAccessors(t *testing.T) {
	r, in, _ := newRunner(t)
	test.That(t, r.Name(), test.ShouldEqual, "doubler")
	test.That(t, r.Policy(), test.ShouldEqual, PolicyThreaded)
	test.That(t, r.InputQueue(), test.ShouldEqual, in)
}
