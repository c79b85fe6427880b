package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/barpipe/sim"
)

type fakeTimeTeller struct {
	now sim.VTimeInSec
}

func (t *fakeTimeTeller) CurrentTime() sim.VTimeInSec {
	return t.now
}

var _ = Describe("BusyTimeTracer", func() {
	var (
		timeTeller *fakeTimeTeller
		tracer     *BusyTimeTracer
	)

	BeforeEach(func() {
		timeTeller = &fakeTimeTeller{}
		tracer = NewBusyTimeTracer(timeTeller, nil)
	})

	It("should measure a single task", func() {
		timeTeller.now = 1
		tracer.StartTask(Task{ID: "1"})

		timeTeller.now = 3
		tracer.EndTask(Task{ID: "1"})

		Expect(tracer.BusyTime()).To(BeNumerically("~", 2, 1e-12))
	})

	It("should count overlapped time once", func() {
		timeTeller.now = 1
		tracer.StartTask(Task{ID: "1"})

		timeTeller.now = 2
		tracer.StartTask(Task{ID: "2"})

		timeTeller.now = 3
		tracer.EndTask(Task{ID: "1"})

		timeTeller.now = 5
		tracer.EndTask(Task{ID: "2"})

		Expect(tracer.BusyTime()).To(BeNumerically("~", 4, 1e-12))
	})

	It("should accumulate disjoint intervals", func() {
		timeTeller.now = 1
		tracer.StartTask(Task{ID: "1"})
		timeTeller.now = 2
		tracer.EndTask(Task{ID: "1"})

		timeTeller.now = 10
		tracer.StartTask(Task{ID: "2"})
		timeTeller.now = 13
		tracer.EndTask(Task{ID: "2"})

		Expect(tracer.BusyTime()).To(BeNumerically("~", 4, 1e-12))
	})

	It("should ignore ends without a matching start", func() {
		timeTeller.now = 2
		tracer.EndTask(Task{ID: "unknown"})

		Expect(tracer.BusyTime()).To(BeNumerically("~", 0, 1e-12))
	})

	It("should apply the filter", func() {
		tracer = NewBusyTimeTracer(timeTeller, func(t Task) bool {
			return t.Kind == "tick"
		})

		timeTeller.now = 1
		tracer.StartTask(Task{ID: "1", Kind: "req"})
		timeTeller.now = 4
		tracer.EndTask(Task{ID: "1", Kind: "req"})

		Expect(tracer.BusyTime()).To(BeNumerically("~", 0, 1e-12))
	})

	It("should close in-flight tasks on termination", func() {
		timeTeller.now = 1
		tracer.StartTask(Task{ID: "1"})

		tracer.TerminateAllTasks(6)

		Expect(tracer.BusyTime()).To(BeNumerically("~", 5, 1e-12))
	})
})

var _ = Describe("TotalTimeTracer", func() {
	var (
		timeTeller *fakeTimeTeller
		tracer     *TotalTimeTracer
	)

	BeforeEach(func() {
		timeTeller = &fakeTimeTeller{}
		tracer = NewTotalTimeTracer(timeTeller, func(Task) bool {
			return true
		})
	})

	It("should sum task times including overlap", func() {
		timeTeller.now = 1
		tracer.StartTask(Task{ID: "1"})

		timeTeller.now = 2
		tracer.StartTask(Task{ID: "2"})

		timeTeller.now = 3
		tracer.EndTask(Task{ID: "1"})

		timeTeller.now = 5
		tracer.EndTask(Task{ID: "2"})

		Expect(tracer.TotalTime()).To(BeNumerically("~", 5, 1e-12))
	})
})
